// Package preview уменьшает загруженные изображения до JPEG превью.
package preview

import (
	"errors"
	"fmt"

	"github.com/h2non/bimg"

	"neuralnexus/internal/logging"
)

const (
	maxImageSize = 1024 // максимальный размер превью в пикселях
	jpegQuality  = 85   // качество JPEG
)

// ErrUnsupportedImage данные не являются изображением, которое умеет читать libvips
var ErrUnsupportedImage = errors.New("unsupported image")

type Service struct {
	maxSize int
	quality int
}

// NewService создает новый сервис для работы с превью
func NewService() *Service {
	return &Service{
		maxSize: maxImageSize,
		quality: jpegQuality,
	}
}

// Thumbnail приводит изображение к JPEG, вписывая его в maxImageSize
func (s *Service) Thumbnail(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image: %w", ErrUnsupportedImage)
	}
	if !bimg.IsTypeSupported(bimg.DetermineImageType(data)) {
		return nil, fmt.Errorf("unknown image type %q: %w", bimg.DetermineImageTypeName(data), ErrUnsupportedImage)
	}

	return s.optimizeImage(data)
}

// optimizeImage оптимизирует изображение до нужного размера
func (s *Service) optimizeImage(data []byte) ([]byte, error) {
	image := bimg.NewImage(data)

	size, err := image.Size()
	if err != nil {
		return nil, fmt.Errorf("failed to get image size: %w: %w", ErrUnsupportedImage, err)
	}

	width, height := calculateNewDimensions(size.Width, size.Height, s.maxSize)

	processed, err := image.Process(bimg.Options{
		Width:   width,
		Height:  height,
		Quality: s.quality,
		Type:    bimg.JPEG,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to process image: %w", err)
	}

	logging.Debug().
		Int("width", width).
		Int("height", height).
		Int("bytes", len(processed)).
		Msg("[Preview] Thumbnail generated")
	return processed, nil
}

// calculateNewDimensions вычисляет новые размеры с сохранением пропорций.
// Изображения меньше maxSize не увеличиваются.
func calculateNewDimensions(width, height, maxSize int) (newWidth, newHeight int) {
	if width <= 0 || height <= 0 {
		return 0, 0
	}
	if width <= maxSize && height <= maxSize {
		return width, height
	}
	if width > height {
		newWidth = maxSize
		newHeight = max(1, (height*maxSize)/width)
	} else {
		newHeight = maxSize
		newWidth = max(1, (width*maxSize)/height)
	}
	return
}
