package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

var sessionProperty = map[string]interface{}{
	"type":        "string",
	"description": "Session id returned by image_open",
}

var opacityProperty = map[string]interface{}{
	"type":        "integer",
	"description": "Opacity percent (0-100). Default 100",
	"minimum":     0,
	"maximum":     100,
	"default":     100,
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Session Lifecycle
		{
			Name:        "image_open",
			Description: "Open an image file as a new editing session. Returns the session id plus the probed width, height, format and mime type. The source file is never modified.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Path to the image file",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "image_info",
			Description: "Describe a session: current file, whether it has been modified, and the real width, height and format of the current image.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session": sessionProperty,
				},
				"required": []string{"session"},
			},
		},
		{
			Name:        "image_close",
			Description: "Close a session and delete its intermediate files.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session": sessionProperty,
				},
				"required": []string{"session"},
			},
		},

		// Transforms
		{
			Name:        "image_resize",
			Description: "Scale the image to exactly width x height. Aspect ratio is not preserved.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session": sessionProperty,
					"width": map[string]interface{}{
						"type":        "integer",
						"description": "Target width in pixels",
						"minimum":     1,
					},
					"height": map[string]interface{}{
						"type":        "integer",
						"description": "Target height in pixels",
						"minimum":     1,
					},
				},
				"required": []string{"session", "width", "height"},
			},
		},
		{
			Name:        "image_crop",
			Description: "Keep a width x height region whose top-left corner is at (x, y). Regions past the edge are clamped; the result reports the real size.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session": sessionProperty,
					"width": map[string]interface{}{
						"type":        "integer",
						"description": "Region width in pixels",
						"minimum":     1,
					},
					"height": map[string]interface{}{
						"type":        "integer",
						"description": "Region height in pixels",
						"minimum":     1,
					},
					"x": map[string]interface{}{
						"type":        "integer",
						"description": "Left edge of the region. Default 0",
						"default":     0,
					},
					"y": map[string]interface{}{
						"type":        "integer",
						"description": "Top edge of the region. Default 0",
						"default":     0,
					},
				},
				"required": []string{"session", "width", "height"},
			},
		},
		{
			Name:        "image_rotate",
			Description: "Rotate clockwise by degrees. The result is PNG with transparent corners.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session": sessionProperty,
					"degrees": map[string]interface{}{
						"type":        "integer",
						"description": "Clockwise rotation (-360 to 360)",
					},
				},
				"required": []string{"session", "degrees"},
			},
		},
		{
			Name:        "image_flip",
			Description: "Mirror the image horizontally (left-right) or vertically (top-bottom).",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session": sessionProperty,
					"direction": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"horizontal", "vertical"},
						"description": "Mirror axis",
					},
				},
				"required": []string{"session", "direction"},
			},
		},
		{
			Name:        "image_sharpen",
			Description: "Sharpen the image. Amounts below 5 behave like 5.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session": sessionProperty,
					"amount": map[string]interface{}{
						"type":        "integer",
						"description": "Sharpening strength (0-100)",
						"minimum":     0,
						"maximum":     100,
					},
				},
				"required": []string{"session", "amount"},
			},
		},
		{
			Name:        "image_reflection",
			Description: "Append a mirrored copy of the bottom rows below the image, fading to transparent. The result is PNG.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session": sessionProperty,
					"height": map[string]interface{}{
						"type":        "integer",
						"description": "Reflection height in pixels. 0 or omitted uses the full image height",
						"minimum":     0,
					},
					"opacity": opacityProperty,
					"fade_in": map[string]interface{}{
						"type":        "boolean",
						"description": "Reverse the gradient so the reflection fades in instead of out",
						"default":     false,
					},
				},
				"required": []string{"session"},
			},
		},
		{
			Name:        "image_watermark",
			Description: "Composite an overlay image onto the session. Give exactly one of overlay_session, overlay_path or overlay_base64. Omitted offsets center the overlay; negative offsets count from the right or bottom edge.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session": sessionProperty,
					"overlay_session": map[string]interface{}{
						"type":        "string",
						"description": "Session whose current image is the overlay",
					},
					"overlay_path": map[string]interface{}{
						"type":        "string",
						"description": "Path to the overlay image",
					},
					"overlay_base64": map[string]interface{}{
						"type":        "string",
						"description": "Base64-encoded overlay image",
					},
					"x": map[string]interface{}{
						"type":        "integer",
						"description": "Left offset of the overlay",
					},
					"y": map[string]interface{}{
						"type":        "integer",
						"description": "Top offset of the overlay",
					},
					"opacity": opacityProperty,
				},
				"required": []string{"session"},
			},
		},
		{
			Name:        "image_background",
			Description: "Flatten the image onto a solid colour. Transparent areas take the colour at the given opacity. The result is PNG.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session": sessionProperty,
					"color": map[string]interface{}{
						"type":        "string",
						"description": "Hex colour such as #ff8800 or #f80",
					},
					"opacity": opacityProperty,
				},
				"required": []string{"session", "color"},
			},
		},
		{
			Name:        "image_canvas",
			Description: "Replace the image with a transparent width x height canvas holding the current image at its top-left corner. The result is PNG.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session": sessionProperty,
					"width": map[string]interface{}{
						"type":        "integer",
						"description": "Canvas width in pixels",
						"minimum":     1,
					},
					"height": map[string]interface{}{
						"type":        "integer",
						"description": "Canvas height in pixels",
						"minimum":     1,
					},
				},
				"required": []string{"session", "width", "height"},
			},
		},

		// Output
		{
			Name:        "image_save",
			Description: "Write the current image to a file. The format follows the file extension. The session is not changed, and a failed save leaves no partial file.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session": sessionProperty,
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Destination file path",
					},
					"quality": map[string]interface{}{
						"type":        "integer",
						"description": "Encoder quality (1-100). 0 or omitted uses the tool default",
						"minimum":     0,
						"maximum":     100,
					},
				},
				"required": []string{"session", "path"},
			},
		},
		{
			Name:        "image_render",
			Description: "Encode the current image and return it as base64 data. The session is not changed.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session": sessionProperty,
					"format": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"png", "jpg", "jpeg", "gif", "webp", "bmp", "tif", "tiff"},
						"description": "Output format. Default png",
						"default":     "png",
					},
					"quality": map[string]interface{}{
						"type":        "integer",
						"description": "Encoder quality (1-100). 0 or omitted uses the tool default",
						"minimum":     0,
						"maximum":     100,
					},
				},
				"required": []string{"session"},
			},
		},

		// Batch
		{
			Name:        "image_batch",
			Description: "Apply the same steps to many images in parallel, saving each result to its destination. One failing image does not stop the others.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"jobs": map[string]interface{}{
						"type":        "array",
						"description": "Images to process",
						"items": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"source":      map[string]interface{}{"type": "string"},
								"destination": map[string]interface{}{"type": "string"},
								"quality":     map[string]interface{}{"type": "integer"},
							},
							"required": []string{"source", "destination"},
						},
					},
					"steps": map[string]interface{}{
						"type":        "array",
						"description": "Transforms applied in order to every image",
						"items": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"op": map[string]interface{}{
									"type": "string",
									"enum": []string{"resize", "crop", "rotate", "flip", "sharpen", "reflection", "watermark", "background", "canvas"},
								},
								"width":        map[string]interface{}{"type": "integer"},
								"height":       map[string]interface{}{"type": "integer"},
								"degrees":      map[string]interface{}{"type": "integer"},
								"direction":    map[string]interface{}{"type": "string"},
								"amount":       map[string]interface{}{"type": "integer"},
								"opacity":      map[string]interface{}{"type": "integer"},
								"fade_in":      map[string]interface{}{"type": "boolean"},
								"color":        map[string]interface{}{"type": "string"},
								"overlay_path": map[string]interface{}{"type": "string"},
								"x": map[string]interface{}{
									"type":        "integer",
									"description": "Crop left edge (default 0). For watermark, omitted centres and negative counts from the right edge",
								},
								"y": map[string]interface{}{
									"type":        "integer",
									"description": "Crop top edge (default 0). For watermark, omitted centres and negative counts from the bottom edge",
								},
							},
							"required": []string{"op"},
						},
					},
					"workers": map[string]interface{}{
						"type":        "integer",
						"description": "Parallel images. Capped by the server setting",
						"minimum":     0,
					},
				},
				"required": []string{"jobs"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
