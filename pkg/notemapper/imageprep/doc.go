// Package imageprep turns a raw phone photo into an image the note detector
// can take.
//
// Photos of sticky notes arrive straight from cameras: large, rotated through
// EXIF tags, sometimes WebP or BMP. Prepare normalises them so the detector
// sees the picture the user saw, at a size the upstream service accepts.
//
// # Pipeline
//
//  1. Sniff the format from the header (PNG, JPEG, GIF, WebP, BMP).
//  2. Decode with EXIF auto-orientation (disintegration/imaging).
//  3. Downscale so the longest side is at most Options.MaxDimension.
//  4. Optionally raise contrast (anthonynsimon/bild).
//  5. Re-encode: PNG stays PNG, everything else becomes JPEG, stepping quality
//     down until the result fits Options.MaxBytes.
//
// Detector coordinates are relative to the prepared image, so Result.Width and
// Result.Height are the frame the detected notes live in.
package imageprep
