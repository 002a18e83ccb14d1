// Package server implements the MCP (Model Context Protocol) server for
// ImageMagick-driven image editing.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Session Lifecycle:
//   - image_open: Open an image as a session
//   - image_info: Describe the current image
//   - image_close: Release a session
//
// Transforms (each one commits or leaves the session unchanged):
//   - image_resize, image_crop, image_rotate, image_flip, image_sharpen
//   - image_reflection, image_watermark, image_background, image_canvas
//
// Output:
//   - image_save: Write to a file
//   - image_render: Return encoded bytes as base64
//
// Batch:
//   - image_batch: Apply a step list to many files in parallel
//
// # Sessions
//
// Each image_open creates a session keyed by a random id. Sessions hold at
// most one intermediate file in the scratch directory. Every session still
// open when Run returns is closed.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32602 for bad arguments, -32000 for tool execution failure
//   - message: Human-readable error description
//   - data: The Go error string, including ImageMagick's stderr when present
//
// # Usage
//
//	srv := server.New(server.Options{Engine: engine, Logger: logger})
//	if err := srv.Run(ctx, os.Stdin, os.Stdout); err != nil {
//	    return err
//	}
package server
