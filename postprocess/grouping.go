package postprocess

import (
	flatbush "github.com/bmharper/flatbush-go"
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-verify/images"
)

// ErrInvalidGrouping is returned when Grouping gets a parameter it cannot honour.
var ErrInvalidGrouping = errors.New("invalid grouping parameters")

// cluster accumulates the corners of every member of one group.
type cluster struct {
	x1, y1, x2, y2 int
	count          int
}

func (c *cluster) add(r images.Rect) {
	c.x1 += r.X1
	c.y1 += r.Y1
	c.x2 += r.X2
	c.y2 += r.Y2
	c.count++
}

func (c *cluster) mean() images.Rect {
	n := float32(c.count)
	return images.Rect{
		X1: int(math32.Round(float32(c.x1) / n)),
		Y1: int(math32.Round(float32(c.y1) / n)),
		X2: int(math32.Round(float32(c.x2) / n)),
		Y2: int(math32.Round(float32(c.y2) / n)),
	}
}

// Grouping collapses near-duplicate rectangles into one representative per group.
//
// Two rectangles belong to the same group when they are similar (see
// images.IsSimilar), directly or through a chain of similar rectangles. Groups
// with fewer than groupTh members are dropped. Each remaining group becomes the
// mean of its members' corners. Groups come out in the order of their first
// member in rects, so identical input always gives identical output.
//
// Candidate pairs are found through a flatbush index, so only rectangles whose
// grown boxes overlap are compared.
//
// Arguments:
//   - rects: The rectangles to group.
//   - groupTh: Minimum group size. 1 keeps every group, singletons included.
//   - eps: Similarity tolerance relative to rectangle size. 0 only groups identical rectangles.
//
// Returns:
//   - The representatives, never nil.
//   - ErrInvalidGrouping (wrapped) if groupTh < 1 or eps is negative or NaN.
func Grouping(rects []images.Rect, groupTh int, eps float64) ([]images.Rect, error) {
	if groupTh < 1 {
		return nil, errors.Wrapf(ErrInvalidGrouping, "group threshold %d is below 1", groupTh)
	}
	if !(eps >= 0) {
		return nil, errors.Wrapf(ErrInvalidGrouping, "eps %v is not a non-negative number", eps)
	}

	n := len(rects)
	if n == 0 {
		return []images.Rect{}, nil
	}

	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(n)
	for _, r := range rects {
		fb.Add(int32(min(r.X1, r.X2)), int32(min(r.Y1, r.Y2)), int32(max(r.X1, r.X2)), int32(max(r.Y1, r.Y2)))
	}
	fb.Finish()

	ds := newDisjointSet(n)
	var nearby []int
	for i, r := range rects {
		if r.Empty() {
			continue
		}
		// One extra pixel so that boxes exactly on the margin are always returned.
		m := int32(images.SimilarityMargin(r, eps)) + 1
		nearby = fb.SearchFast(int32(r.X1)-m, int32(r.Y1)-m, int32(r.X2)+m, int32(r.Y2)+m, nearby[:0])
		for _, j := range nearby {
			if j <= i {
				continue
			}
			if images.IsSimilar(r, rects[j], eps) {
				ds.union(i, j)
			}
		}
	}

	// Clusters are numbered by the first index that reaches each root.
	order := make(map[int]int, n)
	clusters := make([]cluster, 0, n)
	for i, r := range rects {
		root := ds.find(i)
		k, ok := order[root]
		if !ok {
			k = len(clusters)
			order[root] = k
			clusters = append(clusters, cluster{})
		}
		clusters[k].add(r)
	}

	grouped := make([]images.Rect, 0, len(clusters))
	for i := range clusters {
		if clusters[i].count < groupTh {
			continue
		}
		grouped = append(grouped, clusters[i].mean())
	}
	return grouped, nil
}
