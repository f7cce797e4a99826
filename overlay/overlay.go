// Package overlay - Draws a VerificationResult on its frame.
package overlay

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-verify/images"
	"github.com/nvr-ai/go-verify/verifier"
)

// Colors of the drawn boxes. gocv takes RGBA and converts to BGR itself.
var (
	ColorTP           = color.RGBA{0, 255, 0, 0}
	ColorFP           = color.RGBA{255, 0, 0, 0}
	ColorFound        = color.RGBA{255, 255, 255, 0}
	ColorMissed       = color.RGBA{0, 0, 255, 0}
	ColorMissedUnsure = color.RGBA{128, 128, 128, 0}
	ColorUngroupedWnd = color.RGBA{255, 255, 0, 0}
)

// ErrRender is returned when a frame cannot be read or written.
var ErrRender = errors.New("overlay render failed")

// Options control what is drawn.
type Options struct {
	// Thickness of the grouped windows and ground truth. 2 when not positive.
	Thickness int
	// Ungrouped also draws every thresholded window before grouping, 1px wide.
	Ungrouped bool
	// Labels writes TP/FP above the grouped windows.
	Labels bool
}

// Box is one rectangle to draw.
type Box struct {
	Rect      image.Rectangle
	Color     color.RGBA
	Thickness int
	Label     string
}

func toImage(r images.Rect) image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// Boxes lists what Draw paints, bottom layer first: ungrouped windows, ground
// truth, then grouped windows.
//
// Arguments:
//   - vr: The verification result of the frame.
//   - opts: The drawing options.
//
// Returns:
//   - []Box: The boxes in paint order.
func Boxes(vr *verifier.VerificationResult, opts Options) []Box {
	if vr == nil {
		return nil
	}
	thickness := opts.Thickness
	if thickness <= 0 {
		thickness = 2
	}

	var boxes []Box
	if opts.Ungrouped {
		for _, r := range vr.Windows {
			boxes = append(boxes, Box{Rect: toImage(r), Color: ColorUngroupedWnd, Thickness: 1})
		}
	}

	for i, gt := range vr.GroundTruth {
		c := ColorFound
		switch {
		case vr.FoundFlags[i]:
		case gt.Confident:
			c = ColorMissed
		default:
			c = ColorMissedUnsure
		}
		boxes = append(boxes, Box{Rect: toImage(gt.Rect), Color: c, Thickness: thickness})
	}

	for i, r := range vr.WindowsGrouped {
		b := Box{Rect: toImage(r), Color: ColorFP, Thickness: thickness}
		if vr.TPGroupedFlags[i] {
			b.Color = ColorTP
		}
		if opts.Labels {
			b.Label = "FP"
			if vr.TPGroupedFlags[i] {
				b.Label = "TP"
			}
		}
		boxes = append(boxes, b)
	}

	return boxes
}

// Draw paints vr onto img in place.
func Draw(img *gocv.Mat, vr *verifier.VerificationResult, opts Options) {
	for _, b := range Boxes(vr, opts) {
		gocv.Rectangle(img, b.Rect, b.Color, b.Thickness)
		if b.Label != "" {
			gocv.PutText(img, b.Label, image.Pt(b.Rect.Min.X, b.Rect.Min.Y-4), gocv.FontHersheyPlain, 0.8, b.Color, 1)
		}
	}
}

// Render reads a frame, draws vr on it and writes the result.
//
// Arguments:
//   - imagePath: The frame image.
//   - outPath: Where to write the annotated image. The extension picks the format.
//   - vr: The verification result of the frame.
//   - opts: The drawing options.
//
// Returns:
//   - error: ErrRender (wrapped) if the image cannot be read or written.
func Render(imagePath, outPath string, vr *verifier.VerificationResult, opts Options) error {
	img := gocv.IMRead(imagePath, gocv.IMReadColor)
	if img.Empty() {
		return errors.Wrapf(ErrRender, "reading image %s", imagePath)
	}
	defer img.Close()

	Draw(&img, vr, opts)

	if !gocv.IMWrite(outPath, img) {
		return errors.Wrapf(ErrRender, "writing image %s", outPath)
	}
	return nil
}
