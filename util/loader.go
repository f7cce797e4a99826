package util

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-verify/detector"
	"github.com/nvr-ai/go-verify/verifier"
)

// Frame is the detector output and ground truth of one frame.
type Frame struct {
	// Path is the path to the annotation file.
	Path string
	// Index is the frame number taken from the file name.
	Index int
	// Image is the path to the frame image, or empty if the file names none.
	Image string
	// Detections holds every scored window of the frame. LoadFrame sets a detector.Result.
	Detections detector.Detections
	// Truth is the ground truth of the frame.
	Truth []verifier.TruthRect
}

// frameFile is the on-disk layout. Boxes are [x, y, width, height].
type frameFile struct {
	Image   string               `yaml:"image"`
	Windows []detector.Window    `yaml:"windows"`
	Truth   []verifier.TruthRect `yaml:"truth"`
}

// LoadFrame reads one annotation file. JSON and YAML are both accepted.
//
// Arguments:
//   - path: Path to the annotation file.
//
// Returns:
//   - Frame: The parsed frame. Index is left at 0.
//   - error: Error if the file cannot be read or parsed.
func LoadFrame(path string) (Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "reading %s", path)
	}

	var ff frameFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return Frame{}, errors.Wrapf(err, "parsing %s", path)
	}

	frame := Frame{Path: path}
	if ff.Image != "" {
		frame.Image = ff.Image
		if !filepath.IsAbs(frame.Image) {
			frame.Image = filepath.Join(filepath.Dir(path), frame.Image)
		}
	}
	frame.Detections = detector.Result{Windows: ff.Windows}
	frame.Truth = ff.Truth
	return frame, nil
}

// LoadFrames reads every "frame-<n>.json|.yaml|.yml" file from a directory.
//
// Arguments:
// - dir: Directory path containing annotation files.
//
// Returns:
// - []Frame: The frames, ordered by frame number.
// - error: Error if loading fails.
func LoadFrames(dir string) ([]Frame, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "reading frame directory")
	}

	var frames []Frame
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), "frame-") {
			continue
		}

		ext := filepath.Ext(file.Name())
		switch ext {
		case ".json", ".yaml", ".yml":
			index, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(file.Name(), "frame-"), ext))
			if err != nil {
				return nil, errors.Wrapf(err, "frame number of %s", file.Name())
			}
			frame, err := LoadFrame(filepath.Join(dir, file.Name()))
			if err != nil {
				return nil, err
			}
			frame.Index = index
			frames = append(frames, frame)
		}
	}

	sort.Slice(frames, func(i, j int) bool {
		return frames[i].Index < frames[j].Index
	})

	return frames, nil
}
