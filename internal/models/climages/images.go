package climages

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"

	_ "image/gif"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const MaxWidth = 1600

var (
	ErrNotImage          = errors.New("le fichier doit être une image")
	ErrTooLarge          = errors.New("image trop grande")
	ErrUnsupportedFormat = errors.New("seule les images jpg, png, gif et webp sont supportées")
)

// PixelGIF est un GIF transparent 1x1
var PixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21,
	0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
	0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
	0x01, 0x00, 0x3b,
}

// Processed est une image prête à être écrite sur disque
type Processed struct {
	Data     []byte
	Ext      string
	MimeType string
	Format   string
}

// Process vérifie, décode, redimensionne et réencode une image déposée.
// Les GIF sont conservés tels quels pour garder l'animation.
func Process(file io.ReadSeeker, size, maxSize int64) (*Processed, error) {
	if maxSize > 0 && size > maxSize {
		return nil, fmt.Errorf("%w (max %d Mo)", ErrTooLarge, maxSize/(1024*1024))
	}

	// Vérifier le type MIME
	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("lecture fichier: %w", err)
	}
	contentType := http.DetectContentType(buffer[:n])
	if !strings.HasPrefix(contentType, "image/") {
		return nil, ErrNotImage
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("lecture fichier: %w", err)
	}

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	var out bytes.Buffer
	switch format {
	case "gif":
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("lecture fichier: %w", err)
		}
		if _, err := io.Copy(&out, file); err != nil {
			return nil, fmt.Errorf("lecture fichier: %w", err)
		}
		return &Processed{Data: out.Bytes(), Ext: ".gif", MimeType: "image/gif", Format: format}, nil
	case "png", "webp":
		// PNG pour préserver la transparence
		if err := png.Encode(&out, Resize(img, MaxWidth)); err != nil {
			return nil, fmt.Errorf("encodage png: %w", err)
		}
		return &Processed{Data: out.Bytes(), Ext: ".png", MimeType: "image/png", Format: format}, nil
	case "jpeg":
		if err := jpeg.Encode(&out, Resize(img, MaxWidth), &jpeg.Options{Quality: 85}); err != nil {
			return nil, fmt.Errorf("encodage jpeg: %w", err)
		}
		return &Processed{Data: out.Bytes(), Ext: ".jpg", MimeType: "image/jpeg", Format: format}, nil
	default:
		return nil, ErrUnsupportedFormat
	}
}

// Fonction pour redimensionner l'image
func Resize(img image.Image, maxWidth int) image.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	// Si l'image est déjà plus petite, la retourner telle quelle
	if width <= maxWidth {
		return img
	}

	// Calculer les nouvelles dimensions en gardant le ratio
	ratio := float64(maxWidth) / float64(width)
	newWidth := maxWidth
	newHeight := int(float64(height) * ratio)

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	return dst
}

// Base64 encode l'image pour l'intégrer dans un document HTML
func Base64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// MimeFromExt retourne le type MIME d'une extension d'image stockée
func MimeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}
	return "application/octet-stream"
}
