// Package pipeline implements the deterministic per-file transform:
// decode -> resize -> re-encode -> size-compare -> collision-safe write.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	_ "golang.org/x/image/webp" // register WEBP decoding

	"image-compressor-go/internal/config"
	"image-compressor-go/internal/logger"
	"image-compressor-go/internal/metadata"
	"image-compressor-go/internal/resolver"
)

// Result describes a successful transform of a single file.
type Result struct {
	SourcePath      string
	OutputPath      string
	OriginalSize    int64
	CompressedSize  int64
	EffectiveFormat config.Format
	KeptOriginal    bool
}

// Pipeline transforms single files according to a fixed CompressionConfig.
// It is safe for concurrent use by multiple workers; the resolver serializes
// the only shared step, output path resolution.
type Pipeline struct {
	cfg      config.CompressionConfig
	resolver *resolver.Resolver
	log      *logrus.Logger
}

// New returns a Pipeline for one batch run.
func New(cfg config.CompressionConfig, res *resolver.Resolver, log *logrus.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, resolver: res, log: log}
}

// Process runs the transform for one source file. The context is checked
// between steps; a cancellation aborts with ctx.Err() and no partial output.
// All other failures come back as a typed *Error.
func (p *Pipeline) Process(ctx context.Context, srcPath string) (Result, error) {
	res := Result{SourcePath: srcPath}

	info, err := os.Stat(srcPath)
	if err != nil {
		return res, newError(KindDecode, srcPath, fmt.Errorf("stat: %w", err))
	}
	res.OriginalSize = info.Size()

	target := p.cfg.Format
	if target == config.FormatKeep {
		var ok bool
		target, ok = config.FormatForExtension(filepath.Ext(srcPath))
		if !ok {
			return res, newError(KindUnsupportedFormat, srcPath,
				fmt.Errorf("unsupported source format %q", filepath.Ext(srcPath)))
		}
	}
	res.EffectiveFormat = target

	if err := ctx.Err(); err != nil {
		return res, err
	}

	// Step 1: decode. Auto-orientation bakes the EXIF rotation into the
	// pixels so a resize or format change never flips the result.
	img, err := imaging.Open(srcPath, imaging.AutoOrientation(true))
	if err != nil {
		return res, newError(KindDecode, srcPath, err)
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	// Step 2: resize.
	if p.cfg.HasResize() {
		img = resize(img, p.cfg)
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	// Step 3: re-encode.
	encoded, err := encode(img, target, p.cfg.Quality)
	if err != nil {
		return res, newError(KindEncode, srcPath, err)
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	// Step 4: best-effort metadata copy, before the size guard so the tag
	// bytes count against the original. Dropped silently when the target
	// cannot carry EXIF or the copy fails.
	if p.cfg.PreserveMetadata && target.CarriesMetadata() && metadata.HasEXIF(srcPath) {
		encoded = p.copyMetadata(srcPath, encoded, target.Extension())
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	// Step 5: size guard. Never produce a file larger than the original;
	// fall back to the original bytes and report the source format.
	output := encoded
	res.CompressedSize = int64(len(encoded))
	if res.CompressedSize >= res.OriginalSize {
		original, err := os.ReadFile(srcPath)
		if err != nil {
			return res, newError(KindDecode, srcPath, fmt.Errorf("reread original: %w", err))
		}
		logger.WithStep(p.log, srcPath, "size-guard").Debugf(
			"kept original bytes (%d >= %d)", res.CompressedSize, res.OriginalSize)
		output = original
		res.CompressedSize = res.OriginalSize
		res.KeptOriginal = true
		if srcFormat, ok := config.FormatForExtension(filepath.Ext(srcPath)); ok {
			res.EffectiveFormat = srcFormat
		}
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	// Step 6: collision-safe write. Output extension always follows the
	// requested target format, even when the size guard kept original bytes.
	base := strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath))
	outPath, err := p.resolver.Claim(p.cfg.OutputDir, base, target.Extension())
	if err != nil {
		return res, newError(KindResolution, srcPath, err)
	}

	if err := writeAtomic(outPath, output); err != nil {
		p.resolver.Release(outPath)
		return res, newError(KindWrite, srcPath, err)
	}
	res.OutputPath = outPath

	return res, nil
}

// copyMetadata round-trips the encoded bytes through a temp file so exiftool
// can graft the source tags onto them. Any failure keeps the bare encode.
func (p *Pipeline) copyMetadata(srcPath string, encoded []byte, ext string) []byte {
	log := logger.WithStep(p.log, srcPath, "metadata")

	tmp, err := os.CreateTemp(p.cfg.OutputDir, ".exif-*"+ext)
	if err != nil {
		log.Debugf("metadata not copied: %v", err)
		return encoded
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		log.Debugf("metadata not copied: %v", err)
		return encoded
	}
	if err := tmp.Close(); err != nil {
		log.Debugf("metadata not copied: %v", err)
		return encoded
	}

	if err := metadata.Copy(srcPath, tmpPath); err != nil {
		log.Debugf("metadata not copied: %v", err)
		return encoded
	}

	tagged, err := os.ReadFile(tmpPath)
	if err != nil {
		log.Debugf("metadata not copied: %v", err)
		return encoded
	}
	return tagged
}

// resize applies the configured dimensions with Lanczos resampling. A single
// dimension derives the other from the aspect ratio; both dimensions with
// KeepAspect fit the image inside the box; otherwise the resize is exact.
func resize(img image.Image, cfg config.CompressionConfig) image.Image {
	switch {
	case cfg.Width > 0 && cfg.Height > 0 && cfg.KeepAspect:
		return imaging.Fit(img, cfg.Width, cfg.Height, imaging.Lanczos)
	case cfg.Width > 0 && cfg.Height > 0:
		return imaging.Resize(img, cfg.Width, cfg.Height, imaging.Lanczos)
	case cfg.Width > 0:
		return imaging.Resize(img, cfg.Width, 0, imaging.Lanczos)
	default:
		return imaging.Resize(img, 0, cfg.Height, imaging.Lanczos)
	}
}

// encode serializes the image in the target format. Quality drives the JPEG
// and WEBP encoders directly; for PNG it maps to a compression level
// (1-33 BestSpeed, 34-66 Default, 67-100 BestCompression) and BMP ignores it.
func encode(img image.Image, target config.Format, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch target {
	case config.FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case config.FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(pngLevel(quality)))
	case config.FormatBMP:
		err = imaging.Encode(&buf, img, imaging.BMP)
	case config.FormatWEBP:
		err = webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)})
	default:
		return nil, fmt.Errorf("unsupported target format %q", target)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func pngLevel(quality int) png.CompressionLevel {
	switch {
	case quality <= 33:
		return png.BestSpeed
	case quality <= 66:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

// writeAtomic writes bytes to a temp file next to dst and renames it into
// place, so the claimed placeholder is replaced in a single step.
func writeAtomic(dst string, data []byte) error {
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
