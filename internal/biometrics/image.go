package biometrics

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image is a decoded capture ready to be sent to the face service.
type Image struct {
	Path   string
	Data   []byte // JPEG or original bytes sent over the wire
	Width  int
	Height int
	img    image.Image
}

// LoadImage reads and decodes an image file, downscaling it to fit maxSize.
// Any read or decode failure wraps attendance.ErrCaptureUnreadable.
func LoadImage(path string, maxSize int) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", attendance.ErrCaptureUnreadable, err)
	}
	img, err := DecodeImage(data, maxSize)
	if err != nil {
		return nil, err
	}
	img.Path = path
	return img, nil
}

// DecodeImage decodes raw image bytes, downscaling them to fit maxSize.
func DecodeImage(data []byte, maxSize int) (*Image, error) {
	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %w", attendance.ErrCaptureUnreadable, err)
	}

	bounds := decoded.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty image", attendance.ErrCaptureUnreadable)
	}

	if maxSize <= 0 || (bounds.Dx() <= maxSize && bounds.Dy() <= maxSize) {
		return &Image{Data: data, Width: bounds.Dx(), Height: bounds.Dy(), img: decoded}, nil
	}

	resized := scaleToFit(decoded, maxSize)
	encoded, err := encodeJPEG(resized)
	if err != nil {
		return nil, err
	}
	rb := resized.Bounds()
	return &Image{Data: encoded, Width: rb.Dx(), Height: rb.Dy(), img: resized}, nil
}

// scaleToFit resizes an image to fit within maxSize while keeping aspect ratio.
func scaleToFit(img image.Image, maxSize int) *image.RGBA {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = max(1, int(float64(height)*float64(maxSize)/float64(width)))
	} else {
		newHeight = maxSize
		newWidth = max(1, int(float64(width)*float64(maxSize)/float64(height)))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

// Crop returns the JPEG-encoded region inside bbox, clipped to the image.
func (i *Image) Crop(bbox []float64) ([]byte, error) {
	if len(bbox) != 4 {
		return nil, fmt.Errorf("invalid bounding box: %v", bbox)
	}
	rect := image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3])).Intersect(i.img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("bounding box %v outside image", bbox)
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Copy(dst, image.Point{}, i.img, rect, draw.Src, nil)
	return encodeJPEG(dst)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
