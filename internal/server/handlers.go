package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/gabriel-vasile/mimetype"
	jsoniter "github.com/json-iterator/go"
	"github.com/lucasb-eyer/go-colorful"
	"go.uber.org/zap"

	"github.com/ironsheep/image-magick-mcp/internal/batch"
	"github.com/ironsheep/image-magick-mcp/internal/magick"
)

// errInvalidArgs marks errors caused by the caller's arguments. They are
// reported as JSON-RPC invalid params.
var errInvalidArgs = errors.New("invalid arguments")

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "image_open", "image_crop").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments jsoniter.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Argument errors return code -32602, every other failure -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	s.log.Debug("tool call", zap.String("tool", params.Name))
	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.log.Warn("tool call failed", zap.String("tool", params.Name), zap.Error(err))
		if errors.Is(err, errInvalidArgs) || errors.Is(err, magick.ErrInvalid) {
			return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
		}
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args jsoniter.RawMessage) (interface{}, error) {
	switch name {
	// Session lifecycle
	case "image_open":
		return s.handleImageOpen(ctx, args)
	case "image_info":
		return s.handleImageInfo(args)
	case "image_close":
		return s.handleImageClose(args)

	// Transforms
	case "image_resize":
		return s.handleImageResize(ctx, args)
	case "image_crop":
		return s.handleImageCrop(ctx, args)
	case "image_rotate":
		return s.handleImageRotate(ctx, args)
	case "image_flip":
		return s.handleImageFlip(ctx, args)
	case "image_sharpen":
		return s.handleImageSharpen(ctx, args)
	case "image_reflection":
		return s.handleImageReflection(ctx, args)
	case "image_watermark":
		return s.handleImageWatermark(ctx, args)
	case "image_background":
		return s.handleImageBackground(ctx, args)
	case "image_canvas":
		return s.handleImageCanvas(ctx, args)

	// Output
	case "image_save":
		return s.handleImageSave(ctx, args)
	case "image_render":
		return s.handleImageRender(ctx, args)

	case "image_batch":
		return s.handleImageBatch(ctx, args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure it returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// decode unmarshals and validates tool arguments.
func (s *Server) decode(args jsoniter.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(args)) == 0 {
		args = jsoniter.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidArgs, err)
	}
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidArgs, err)
	}
	return nil
}

func (s *Server) session(id string) (*magick.Session, error) {
	sess, err := s.sessions.get(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidArgs, err)
	}
	return sess, nil
}

// SessionInfo is returned by every tool that creates or changes a session.
type SessionInfo struct {
	Session  string `json:"session"`
	Source   string `json:"source"`
	File     string `json:"file"`
	Modified bool   `json:"modified"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Format   string `json:"format"`
	Mime     string `json:"mime"`
}

func sessionInfo(id string, sess *magick.Session) SessionInfo {
	meta := sess.Metadata()
	return SessionInfo{
		Session:  id,
		Source:   sess.Source(),
		File:     sess.File(),
		Modified: sess.Modified(),
		Width:    meta.Width,
		Height:   meta.Height,
		Format:   meta.Format,
		Mime:     meta.Mime,
	}
}

func withDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// === Session Lifecycle Handlers ===

type imageOpenArgs struct {
	Path string `json:"path" validate:"required"`
}

func (s *Server) handleImageOpen(ctx context.Context, args jsoniter.RawMessage) (interface{}, error) {
	var a imageOpenArgs
	if err := s.decode(args, &a); err != nil {
		return nil, err
	}
	sess, err := s.engine.Open(ctx, a.Path)
	if err != nil {
		return nil, err
	}
	id := s.sessions.add(sess)
	s.log.Info("session opened", zap.String("session", id), zap.String("source", sess.Source()))
	return sessionInfo(id, sess), nil
}

type sessionArgs struct {
	Session string `json:"session" validate:"required,uuid"`
}

func (s *Server) handleImageInfo(args jsoniter.RawMessage) (interface{}, error) {
	var a sessionArgs
	if err := s.decode(args, &a); err != nil {
		return nil, err
	}
	sess, err := s.session(a.Session)
	if err != nil {
		return nil, err
	}
	return sessionInfo(a.Session, sess), nil
}

func (s *Server) handleImageClose(args jsoniter.RawMessage) (interface{}, error) {
	var a sessionArgs
	if err := s.decode(args, &a); err != nil {
		return nil, err
	}
	sess, err := s.sessions.remove(a.Session)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidArgs, err)
	}
	if err := sess.Close(); err != nil {
		return nil, err
	}
	s.log.Info("session closed", zap.String("session", a.Session))
	return map[string]interface{}{
		"session": a.Session,
		"closed":  true,
	}, nil
}

// === Transform Handlers ===

type imageResizeArgs struct {
	Session string `json:"session" validate:"required,uuid"`
	Width   int    `json:"width" validate:"gt=0"`
	Height  int    `json:"height" validate:"gt=0"`
}

func (s *Server) handleImageResize(ctx context.Context, args jsoniter.RawMessage) (interface{}, error) {
	var a imageResizeArgs
	if err := s.decode(args, &a); err != nil {
		return nil, err
	}
	sess, err := s.session(a.Session)
	if err != nil {
		return nil, err
	}
	if err := sess.Resize(ctx, a.Width, a.Height); err != nil {
		return nil, err
	}
	return sessionInfo(a.Session, sess), nil
}

type imageCropArgs struct {
	Session string `json:"session" validate:"required,uuid"`
	Width   int    `json:"width" validate:"gt=0"`
	Height  int    `json:"height" validate:"gt=0"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
}

func (s *Server) handleImageCrop(ctx context.Context, args jsoniter.RawMessage) (interface{}, error) {
	var a imageCropArgs
	if err := s.decode(args, &a); err != nil {
		return nil, err
	}
	sess, err := s.session(a.Session)
	if err != nil {
		return nil, err
	}
	if err := sess.Crop(ctx, a.Width, a.Height, a.X, a.Y); err != nil {
		return nil, err
	}
	return sessionInfo(a.Session, sess), nil
}

type imageRotateArgs struct {
	Session string `json:"session" validate:"required,uuid"`
	Degrees int    `json:"degrees" validate:"gte=-360,lte=360"`
}

func (s *Server) handleImageRotate(ctx context.Context, args jsoniter.RawMessage) (interface{}, error) {
	var a imageRotateArgs
	if err := s.decode(args, &a); err != nil {
		return nil, err
	}
	sess, err := s.session(a.Session)
	if err != nil {
		return nil, err
	}
	if err := sess.Rotate(ctx, a.Degrees); err != nil {
		return nil, err
	}
	return sessionInfo(a.Session, sess), nil
}

type imageFlipArgs struct {
	Session   string `json:"session" validate:"required,uuid"`
	Direction string `json:"direction" validate:"required"`
}

func (s *Server) handleImageFlip(ctx context.Context, args jsoniter.RawMessage) (interface{}, error) {
	var a imageFlipArgs
	if err := s.decode(args, &a); err != nil {
		return nil, err
	}
	dir, err := magick.ParseDirection(a.Direction)
	if err != nil {
		return nil, err
	}
	sess, err := s.session(a.Session)
	if err != nil {
		return nil, err
	}
	if err := sess.Flip(ctx, dir); err != nil {
		return nil, err
	}
	return sessionInfo(a.Session, sess), nil
}

type imageSharpenArgs struct {
	Session string `json:"session" validate:"required,uuid"`
	Amount  int    `json:"amount" validate:"gte=0,lte=100"`
}

func (s *Server) handleImageSharpen(ctx context.Context, args jsoniter.RawMessage) (interface{}, error) {
	var a imageSharpenArgs
	if err := s.decode(args, &a); err != nil {
		return nil, err
	}
	sess, err := s.session(a.Session)
	if err != nil {
		return nil, err
	}
	if err := sess.Sharpen(ctx, a.Amount); err != nil {
		return nil, err
	}
	return sessionInfo(a.Session, sess), nil
}

type imageReflectionArgs struct {
	Session string `json:"session" validate:"required,uuid"`
	Height  int    `json:"height" validate:"gte=0"`
	Opacity *int   `json:"opacity" validate:"omitempty,gte=0,lte=100"`
	FadeIn  bool   `json:"fade_in"`
}

func (s *Server) handleImageReflection(ctx context.Context, args jsoniter.RawMessage) (interface{}, error) {
	var a imageReflectionArgs
	if err := s.decode(args, &a); err != nil {
		return nil, err
	}
	sess, err := s.session(a.Session)
	if err != nil {
		return nil, err
	}
	if err := reflectSession(ctx, sess, a.Height, withDefault(a.Opacity, 100), a.FadeIn); err != nil {
		return nil, err
	}
	return sessionInfo(a.Session, sess), nil
}

// reflectSession treats a zero height as the full image height.
func reflectSession(ctx context.Context, sess *magick.Session, height, opacity int, fadeIn bool) error {
	if height == 0 {
		height = sess.Metadata().Height
	}
	return sess.Reflection(ctx, height, opacity, fadeIn)
}

type imageWatermarkArgs struct {
	Session        string `json:"session" validate:"required,uuid"`
	OverlaySession string `json:"overlay_session" validate:"omitempty,uuid"`
	OverlayPath    string `json:"overlay_path"`
	OverlayBase64  string `json:"overlay_base64" validate:"omitempty,base64"`
	X              *int   `json:"x"`
	Y              *int   `json:"y"`
	Opacity        *int   `json:"opacity" validate:"omitempty,gte=0,lte=100"`
}

func (s *Server) handleImageWatermark(ctx context.Context, args jsoniter.RawMessage) (interface{}, error) {
	var a imageWatermarkArgs
	if err := s.decode(args, &a); err != nil {
		return nil, err
	}
	sess, err := s.session(a.Session)
	if err != nil {
		return nil, err
	}

	overlay, size, err := s.loadOverlay(ctx, a)
	if err != nil {
		return nil, err
	}
	meta := sess.Metadata()
	x := overlayOffset(a.X, meta.Width, size.X)
	y := overlayOffset(a.Y, meta.Height, size.Y)

	if err := sess.Watermark(ctx, overlay, x, y, withDefault(a.Opacity, 100)); err != nil {
		return nil, err
	}
	return sessionInfo(a.Session, sess), nil
}

// loadOverlay returns the encoded overlay and its size from exactly one of
// the three overlay sources.
func (s *Server) loadOverlay(ctx context.Context, a imageWatermarkArgs) ([]byte, image.Point, error) {
	sources := 0
	for _, v := range []string{a.OverlaySession, a.OverlayPath, a.OverlayBase64} {
		if v != "" {
			sources++
		}
	}
	if sources != 1 {
		return nil, image.Point{}, fmt.Errorf("%w: exactly one of overlay_session, overlay_path or overlay_base64 is required", errInvalidArgs)
	}

	switch {
	case a.OverlaySession != "":
		overlay, err := s.session(a.OverlaySession)
		if err != nil {
			return nil, image.Point{}, err
		}
		data, err := overlay.Render(ctx, "png", 0)
		if err != nil {
			return nil, image.Point{}, err
		}
		meta := overlay.Metadata()
		return data, image.Pt(meta.Width, meta.Height), nil

	case a.OverlayPath != "":
		meta, err := magick.Probe(a.OverlayPath)
		if err != nil {
			return nil, image.Point{}, err
		}
		data, err := os.ReadFile(a.OverlayPath)
		if err != nil {
			return nil, image.Point{}, fmt.Errorf("failed to read overlay: %w", err)
		}
		return data, image.Pt(meta.Width, meta.Height), nil

	default:
		data, err := base64.StdEncoding.DecodeString(a.OverlayBase64)
		if err != nil {
			return nil, image.Point{}, fmt.Errorf("%w: overlay_base64: %v", errInvalidArgs, err)
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, image.Point{}, fmt.Errorf("%w: overlay_base64 is not a supported image: %v", errInvalidArgs, err)
		}
		return data, image.Pt(cfg.Width, cfg.Height), nil
	}
}

// overlayOffset centers the overlay when v is unset and measures negative
// offsets from the far edge.
func overlayOffset(v *int, base, overlay int) int {
	switch {
	case v == nil:
		return (base - overlay) / 2
	case *v < 0:
		return base - overlay + *v
	default:
		return *v
	}
}

type imageBackgroundArgs struct {
	Session string `json:"session" validate:"required,uuid"`
	Color   string `json:"color" validate:"required,hexcolor"`
	Opacity *int   `json:"opacity" validate:"omitempty,gte=0,lte=100"`
}

func (s *Server) handleImageBackground(ctx context.Context, args jsoniter.RawMessage) (interface{}, error) {
	var a imageBackgroundArgs
	if err := s.decode(args, &a); err != nil {
		return nil, err
	}
	r, g, b, err := parseHexColor(a.Color)
	if err != nil {
		return nil, err
	}
	sess, err := s.session(a.Session)
	if err != nil {
		return nil, err
	}
	if err := sess.Background(ctx, r, g, b, withDefault(a.Opacity, 100)); err != nil {
		return nil, err
	}
	return sessionInfo(a.Session, sess), nil
}

func parseHexColor(hex string) (r, g, b int, err error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: color %q: %v", errInvalidArgs, hex, err)
	}
	r8, g8, b8 := c.RGB255()
	return int(r8), int(g8), int(b8), nil
}

type imageCanvasArgs struct {
	Session string `json:"session" validate:"required,uuid"`
	Width   int    `json:"width" validate:"gt=0"`
	Height  int    `json:"height" validate:"gt=0"`
}

func (s *Server) handleImageCanvas(ctx context.Context, args jsoniter.RawMessage) (interface{}, error) {
	var a imageCanvasArgs
	if err := s.decode(args, &a); err != nil {
		return nil, err
	}
	sess, err := s.session(a.Session)
	if err != nil {
		return nil, err
	}
	if err := sess.CreateCanvas(ctx, a.Width, a.Height); err != nil {
		return nil, err
	}
	return sessionInfo(a.Session, sess), nil
}

// === Output Handlers ===

type imageSaveArgs struct {
	Session string `json:"session" validate:"required,uuid"`
	Path    string `json:"path" validate:"required"`
	Quality int    `json:"quality" validate:"gte=0,lte=100"`
}

func (s *Server) handleImageSave(ctx context.Context, args jsoniter.RawMessage) (interface{}, error) {
	var a imageSaveArgs
	if err := s.decode(args, &a); err != nil {
		return nil, err
	}
	sess, err := s.session(a.Session)
	if err != nil {
		return nil, err
	}
	if err := sess.Save(ctx, a.Path, a.Quality); err != nil {
		return nil, err
	}
	result := map[string]interface{}{
		"session": a.Session,
		"path":    a.Path,
	}
	// Describing the saved file is best effort: ImageMagick writes formats
	// (ico, psd, tga...) that have no Go decoder.
	meta, err := magick.Probe(a.Path)
	if err != nil {
		s.log.Debug("saved file not probed", zap.String("path", a.Path), zap.Error(err))
		return result, nil
	}
	result["width"] = meta.Width
	result["height"] = meta.Height
	result["format"] = meta.Format
	result["mime"] = meta.Mime
	return result, nil
}

type imageRenderArgs struct {
	Session string `json:"session" validate:"required,uuid"`
	Format  string `json:"format"`
	Quality int    `json:"quality" validate:"gte=0,lte=100"`
}

// RenderResult carries rendered image bytes back to the client.
type RenderResult struct {
	Format string `json:"format"`
	Mime   string `json:"mime"`
	Size   int    `json:"size"`
	Data   string `json:"data"`
}

func (s *Server) handleImageRender(ctx context.Context, args jsoniter.RawMessage) (interface{}, error) {
	var a imageRenderArgs
	if err := s.decode(args, &a); err != nil {
		return nil, err
	}
	if a.Format == "" {
		a.Format = "png"
	}
	sess, err := s.session(a.Session)
	if err != nil {
		return nil, err
	}
	data, err := sess.Render(ctx, a.Format, a.Quality)
	if err != nil {
		return nil, err
	}
	return RenderResult{
		Format: a.Format,
		Mime:   mimetype.Detect(data).String(),
		Size:   len(data),
		Data:   base64.StdEncoding.EncodeToString(data),
	}, nil
}

// === Batch Handler ===

type batchStepArgs struct {
	Op          string `json:"op" validate:"required,oneof=resize crop rotate flip sharpen reflection watermark background canvas"`
	Width       int    `json:"width" validate:"gte=0"`
	Height      int    `json:"height" validate:"gte=0"`
	X           *int   `json:"x"`
	Y           *int   `json:"y"`
	Degrees     int    `json:"degrees" validate:"gte=-360,lte=360"`
	Direction   string `json:"direction"`
	Amount      int    `json:"amount" validate:"gte=0,lte=100"`
	Opacity     *int   `json:"opacity" validate:"omitempty,gte=0,lte=100"`
	FadeIn      bool   `json:"fade_in"`
	Color       string `json:"color" validate:"omitempty,hexcolor"`
	OverlayPath string `json:"overlay_path"`
}

type imageBatchArgs struct {
	Jobs    []batch.Job     `json:"jobs" validate:"required,min=1,dive"`
	Steps   []batchStepArgs `json:"steps" validate:"dive"`
	Workers int             `json:"workers" validate:"gte=0"`
}

// BatchJobResult reports one image_batch job.
type BatchJobResult struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Format      string `json:"format,omitempty"`
}

func (s *Server) handleImageBatch(ctx context.Context, args jsoniter.RawMessage) (interface{}, error) {
	var a imageBatchArgs
	if err := s.decode(args, &a); err != nil {
		return nil, err
	}

	steps := make([]magick.Step, 0, len(a.Steps))
	for i, sa := range a.Steps {
		step, err := buildStep(sa)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		steps = append(steps, step)
	}

	workers := a.Workers
	if workers == 0 || workers > s.workers {
		workers = s.workers
	}

	results := batch.Run(ctx, s.engine, a.Jobs, steps, workers)
	out := make([]BatchJobResult, len(results))
	failed := 0
	for i, r := range results {
		out[i] = BatchJobResult{
			Source:      r.Job.Source,
			Destination: r.Job.Destination,
			OK:          r.Err == nil,
		}
		if r.Err != nil {
			failed++
			out[i].Error = r.Err.Error()
			continue
		}
		out[i].Width = r.Metadata.Width
		out[i].Height = r.Metadata.Height
		out[i].Format = r.Metadata.Format
	}
	s.log.Info("batch finished",
		zap.Int("jobs", len(results)),
		zap.Int("failed", failed),
		zap.Int("workers", workers))

	return map[string]interface{}{
		"results":   out,
		"succeeded": len(results) - failed,
		"failed":    failed,
	}, nil
}

// buildStep turns one batch step description into a replayable Step.
func buildStep(a batchStepArgs) (magick.Step, error) {
	opacity := withDefault(a.Opacity, 100)
	switch a.Op {
	case "resize":
		return magick.ResizeStep(a.Width, a.Height), nil
	case "crop":
		return magick.CropStep(a.Width, a.Height, withDefault(a.X, 0), withDefault(a.Y, 0)), nil
	case "rotate":
		return magick.RotateStep(a.Degrees), nil
	case "flip":
		dir, err := magick.ParseDirection(a.Direction)
		if err != nil {
			return magick.Step{}, err
		}
		return magick.FlipStep(dir), nil
	case "sharpen":
		return magick.SharpenStep(a.Amount), nil
	case "reflection":
		height, fadeIn := a.Height, a.FadeIn
		return magick.Step{Name: "reflection", Apply: func(ctx context.Context, sess *magick.Session) error {
			return reflectSession(ctx, sess, height, opacity, fadeIn)
		}}, nil
	case "watermark":
		if a.OverlayPath == "" {
			return magick.Step{}, fmt.Errorf("%w: watermark step needs overlay_path", errInvalidArgs)
		}
		meta, err := magick.Probe(a.OverlayPath)
		if err != nil {
			return magick.Step{}, err
		}
		data, err := os.ReadFile(a.OverlayPath)
		if err != nil {
			return magick.Step{}, fmt.Errorf("failed to read overlay: %w", err)
		}
		// Offsets follow image_watermark and depend on each image's size.
		x, y := a.X, a.Y
		return magick.Step{Name: "watermark", Apply: func(ctx context.Context, sess *magick.Session) error {
			base := sess.Metadata()
			return sess.Watermark(ctx, data,
				overlayOffset(x, base.Width, meta.Width),
				overlayOffset(y, base.Height, meta.Height),
				opacity)
		}}, nil
	case "background":
		r, g, b, err := parseHexColor(a.Color)
		if err != nil {
			return magick.Step{}, err
		}
		return magick.BackgroundStep(r, g, b, opacity), nil
	case "canvas":
		return magick.CanvasStep(a.Width, a.Height), nil
	default:
		return magick.Step{}, fmt.Errorf("%w: unknown step %q", errInvalidArgs, a.Op)
	}
}
