// Package magick drives ImageMagick's convert and composite commands as a
// staged image pipeline.
//
// The package does no pixel work itself. It builds argument vectors, runs
// them without a shell, chains intermediate scratch files from one stage to
// the next, and re-reads the real width, height and format of every output.
//
// # Sessions
//
// An Engine opens a Session for a source image:
//
//	eng, _ := magick.NewEngine(magick.Options{Tool: tool, Scratch: scratch})
//	s, err := eng.Open(ctx, "/photos/in.jpg")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	if err := s.Crop(ctx, 100, 100, 0, 0); err != nil {
//	    return err
//	}
//	return s.Save(ctx, "/photos/out.png", 0)
//
// Each transform either commits (new working file, fresh metadata, previous
// working file deleted) or fails with the session unchanged and no new files
// left in the scratch directory. At most one working file exists per session.
//
// # Errors
//
// Failures are *Error values whose Kind is one of invocation, probe, io,
// invalid or closed. Use errors.Is with ErrInvocation, ErrProbe, ErrIO,
// ErrInvalid or ErrClosed to tell them apart.
//
// # Concurrency
//
// A Session serializes its own operations. Distinct sessions share nothing but
// the scratch directory, where every file gets a fresh random name, so they
// can be processed in parallel.
package magick
