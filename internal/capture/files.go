package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// imageExts lists the file extensions ImageFiles picks up.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// ImageFiles returns the image files directly inside dir, sorted by name.
func ImageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// LoadImage reads an image file as a BGR Mat. The caller must close it.
func LoadImage(path string) (gocv.Mat, error) {
	if _, err := os.Stat(path); err != nil {
		return gocv.NewMat(), err
	}
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), fmt.Errorf("decode image %s", path)
	}
	return img, nil
}

// DecodeImage decodes an encoded image buffer as a BGR Mat. The caller must
// close it.
func DecodeImage(data []byte) (gocv.Mat, error) {
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("decode image: %w", err)
	}
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), fmt.Errorf("decode image: unsupported or corrupt data")
	}
	return img, nil
}

// FileSource plays back a fixed list of image files in order.
type FileSource struct {
	files   []string
	index   int
	current string
	mu      sync.Mutex
	running bool
}

// NewFileSource creates a source over the given files.
func NewFileSource(files []string) *FileSource {
	return &FileSource{files: files}
}

// NewDirSource creates a source over the image files in dir.
func NewDirSource(dir string) (*FileSource, error) {
	files, err := ImageFiles(dir)
	if err != nil {
		return nil, err
	}
	return NewFileSource(files), nil
}

func (s *FileSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.index = 0
	return nil
}

func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

// ReadFrame loads the next file. It returns ErrEndOfStream after the last.
func (s *FileSource) ReadFrame() (*gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil, ErrNotOpen
	}
	if s.index >= len(s.files) {
		return nil, ErrEndOfStream
	}

	path := s.files[s.index]
	s.index++
	s.current = path

	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// Current returns the path of the last file read.
func (s *FileSource) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Len returns the number of files.
func (s *FileSource) Len() int {
	return len(s.files)
}

func (s *FileSource) SetFPS(fps int) {}

func (s *FileSource) FPS() int { return 0 }

func (s *FileSource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
