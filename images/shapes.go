// Package images - Rectangle geometry used to compare detections with ground truth.
package images

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidBox is returned when a serialized box is not [x, y, width, height].
var ErrInvalidBox = errors.New("box must be [x, y, width, height]")

// Rect is a lightweight bounding box.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 int
}

// XYWH builds a Rect from its top-left corner and size.
func XYWH(x, y, w, h int) Rect {
	return Rect{X1: x, Y1: y, X2: x + w, Y2: y + h}
}

// Width returns X2-X1. It is negative for malformed rectangles.
func (r Rect) Width() int {
	return r.X2 - r.X1
}

// Height returns Y2-Y1. It is negative for malformed rectangles.
func (r Rect) Height() int {
	return r.Y2 - r.Y1
}

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool {
	return r.X2 <= r.X1 || r.Y2 <= r.Y1
}

// Area returns the area of r in pixels, or 0 if r has a non-positive width or height.
func (r Rect) Area() int {
	if r.Empty() {
		return 0
	}
	return r.Width() * r.Height()
}

// Center returns the center of r in sub-pixel coordinates.
func (r Rect) Center() (float32, float32) {
	return float32(r.X1+r.X2) / 2, float32(r.Y1+r.Y2) / 2
}

func (r Rect) String() string {
	return fmt.Sprintf("[%d,%d %dx%d]", r.X1, r.Y1, r.Width(), r.Height())
}

// xywh is the serialized form of a Rect, the layout of cv::Rect.
func (r Rect) xywh() [4]int {
	return [4]int{r.X1, r.Y1, r.Width(), r.Height()}
}

func fromXYWH(b []int) (Rect, error) {
	if len(b) != 4 {
		return Rect{}, errors.Wrapf(ErrInvalidBox, "got %d values", len(b))
	}
	return XYWH(b[0], b[1], b[2], b[3]), nil
}

// MarshalJSON writes r as [x, y, width, height].
func (r Rect) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.xywh())
}

// UnmarshalJSON reads [x, y, width, height].
func (r *Rect) UnmarshalJSON(data []byte) error {
	var b []int
	if err := json.Unmarshal(data, &b); err != nil {
		return err
	}
	rect, err := fromXYWH(b)
	if err != nil {
		return err
	}
	*r = rect
	return nil
}

// MarshalYAML writes r as a flow sequence [x, y, width, height].
func (r Rect) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{}
	if err := node.Encode(r.xywh()); err != nil {
		return nil, err
	}
	node.Style = yaml.FlowStyle
	return node, nil
}

// UnmarshalYAML reads [x, y, width, height].
func (r *Rect) UnmarshalYAML(value *yaml.Node) error {
	var b []int
	if err := value.Decode(&b); err != nil {
		return err
	}
	rect, err := fromXYWH(b)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}
	*r = rect
	return nil
}

// Intersect returns the overlap of r and o, which is empty when they do not overlap.
func (r Rect) Intersect(o Rect) Rect {
	return Rect{
		X1: max(r.X1, o.X1),
		Y1: max(r.Y1, o.Y1),
		X2: min(r.X2, o.X2),
		Y2: min(r.Y2, o.Y2),
	}
}

// IoU (Intersection over Union) measures the extent of overlap between two
// bounding boxes.
//
//	IoU = Area of Intersection / Area of Union
//
// Malformed rectangles (non-positive width or height) have zero area, so any pair
// involving one scores 0.
//
// Arguments:
//   - r: The first rectangle.
//   - o: The other rectangle to compare against.
//
// Returns:
//   - float32: A value between 0.0 and 1.0 representing the IoU score.
//
// Example Usage:
// ```go
//
//	rect1 := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	rect2 := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	iouScore := CalculateIoU(rect1, rect2) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(r, o Rect) float32 {
	return float32(iou(r, o))
}

func iou(r, o Rect) float64 {
	areaR := r.Area()
	areaO := o.Area()
	if areaR == 0 || areaO == 0 {
		return 0
	}

	interArea := r.Intersect(o).Area()
	if interArea == 0 {
		return 0
	}

	// Union(A, B) = Area(A) + Area(B) - Intersection(A, B)
	unionArea := areaR + areaO - interArea
	return float64(interArea) / float64(unionArea)
}

// IsEquivalent reports whether two rectangles denote the same object: their IoU
// meets or exceeds overwrapTh.
//
// Pairs where either rectangle has zero area are never equivalent, whatever the
// threshold. The relation is symmetric, and reflexive for non-empty rectangles
// as long as overwrapTh <= 1.
//
// Arguments:
//   - r1, r2: The rectangles to compare.
//   - overwrapTh: The minimum IoU, normally in (0, 1].
//
// Returns:
//   - bool: true if the overlap is large enough.
func IsEquivalent(r1, r2 Rect, overwrapTh float64) bool {
	if r1.Empty() || r2.Empty() {
		return false
	}
	return iou(r1, r2) >= overwrapTh
}

// IsSimilar reports whether two rectangles are near-duplicates of the same
// detection. Every edge of r1 must lie within delta of the matching edge of r2,
// where delta = eps * (min(w1, w2) + min(h1, h2)) / 2.
//
// eps = 0 only accepts identical rectangles. Malformed rectangles are never similar.
func IsSimilar(r1, r2 Rect, eps float64) bool {
	if r1.Empty() || r2.Empty() {
		return false
	}
	delta := eps * float64(min(r1.Width(), r2.Width())+min(r1.Height(), r2.Height())) * 0.5
	return math.Abs(float64(r1.X1-r2.X1)) <= delta &&
		math.Abs(float64(r1.Y1-r2.Y1)) <= delta &&
		math.Abs(float64(r1.X2-r2.X2)) <= delta &&
		math.Abs(float64(r1.Y2-r2.Y2)) <= delta
}

// SimilarityMargin is the largest edge offset IsSimilar can accept for r with the
// given eps, rounded up to whole pixels. Any rectangle similar to r lies inside r
// grown by this margin on every side.
func SimilarityMargin(r Rect, eps float64) int {
	if r.Empty() {
		return 0
	}
	return int(math.Ceil(eps * float64(r.Width()+r.Height()) * 0.5))
}

// Normalize reshapes r around its center so that its height/width ratio is
// heightToWidthRatio and its height is heightRatio times the original height.
//
// This removes small aspect-ratio and scale jitter from detector output before
// geometric comparison. Coordinates are rounded to whole pixels, so the result
// is unchanged when heightRatio is 1 and r already has the target ratio.
//
// Arguments:
//   - r: The rectangle to normalize.
//   - heightToWidthRatio: Target height / width. Must be positive.
//   - heightRatio: Scale applied to the height. Must be positive.
//
// Returns:
//   - Rect: The normalized rectangle. r is returned unchanged if either ratio
//     is not positive or r is empty.
//
// @example
// r := Rect{X1: 10, Y1: 10, X2: 40, Y2: 110}   // 30x100
// n := Normalize(r, 2, 1)                       // 50x100, same center
func Normalize(r Rect, heightToWidthRatio, heightRatio float32) Rect {
	if heightToWidthRatio <= 0 || heightRatio <= 0 || r.Empty() {
		return r
	}

	cx, cy := r.Center()
	h := float32(r.Height()) * heightRatio
	w := h / heightToWidthRatio

	x1 := math32.Round(cx - w/2)
	y1 := math32.Round(cy - h/2)
	return Rect{
		X1: int(x1),
		Y1: int(y1),
		X2: int(x1 + math32.Round(w)),
		Y2: int(y1 + math32.Round(h)),
	}
}
