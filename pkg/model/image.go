package model

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/m-mizutani/goerr/v2"
)

const (
	MaxImageSize      = 10 * 1024 * 1024
	MaxTotalImageSize = 30 * 1024 * 1024
)

var (
	ErrImageTooLarge    = goerr.New("image exceeds the per-image size limit")
	ErrAttachmentsFull  = goerr.New("adding image would exceed the total image size limit")
	ErrUnsupportedImage = goerr.New("file is not a supported image")
)

// Image is a binary attachment handed to the model together with its MIME type
type Image struct {
	Name     string
	MIMEType string
	Data     []byte
}

// NewImage builds an image from raw bytes. When mimeType is empty it is
// detected from the content.
func NewImage(name string, data []byte, mimeType string) (Image, error) {
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return Image{}, goerr.Wrap(ErrUnsupportedImage, "invalid image",
			goerr.V("name", name),
			goerr.V("mime_type", mimeType))
	}

	return Image{
		Name:     name,
		MIMEType: mimeType,
		Data:     data,
	}, nil
}

// LoadImage reads an image file from disk. A file over MaxImageSize is
// rejected from its size without being read.
func LoadImage(path string) (Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Image{}, goerr.Wrap(err, "failed to stat image file", goerr.V("path", path))
	}
	if info.Size() > MaxImageSize {
		return Image{}, goerr.Wrap(ErrImageTooLarge, "image rejected",
			goerr.V("name", filepath.Base(path)),
			goerr.V("size", info.Size()))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, goerr.Wrap(err, "failed to read image file", goerr.V("path", path))
	}
	return NewImage(filepath.Base(path), data, "")
}

// Size returns the byte size of the image
func (x Image) Size() int {
	return len(x.Data)
}

// Attachments is a set of images bounded by MaxImageSize per image and
// MaxTotalImageSize for the whole set.
type Attachments struct {
	images []Image
	total  int
}

// Add appends an image if it fits in both limits
func (x *Attachments) Add(img Image) error {
	if img.Size() > MaxImageSize {
		return goerr.Wrap(ErrImageTooLarge, "image rejected",
			goerr.V("name", img.Name),
			goerr.V("size", img.Size()))
	}
	if x.total+img.Size() > MaxTotalImageSize {
		return goerr.Wrap(ErrAttachmentsFull, "image rejected",
			goerr.V("name", img.Name),
			goerr.V("size", img.Size()),
			goerr.V("total", x.total))
	}

	x.images = append(x.images, img)
	x.total += img.Size()
	return nil
}

// AddAll adds images in order. An oversize image is skipped and the batch
// continues. Once the cumulative limit is reached the rest of the batch is not
// accepted. All rejections are returned.
func (x *Attachments) AddAll(images []Image) []error {
	var rejected []error
	for i, img := range images {
		err := x.Add(img)
		if err == nil {
			continue
		}
		rejected = append(rejected, err)
		if errors.Is(err, ErrAttachmentsFull) {
			for _, rest := range images[i+1:] {
				rejected = append(rejected, goerr.Wrap(ErrAttachmentsFull, "image not accepted",
					goerr.V("name", rest.Name)))
			}
			break
		}
	}
	return rejected
}

// Remove drops the image at index
func (x *Attachments) Remove(index int) {
	if index < 0 || index >= len(x.images) {
		return
	}
	x.total -= x.images[index].Size()
	x.images = append(x.images[:index:index], x.images[index+1:]...)
}

// Images returns the accepted images
func (x *Attachments) Images() []Image {
	return append([]Image(nil), x.images...)
}

// TotalSize returns the cumulative size of accepted images
func (x *Attachments) TotalSize() int {
	return x.total
}
