package snapcheck

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/fogleman/gg"
	"github.com/glaslos/ssdeep"
	"github.com/golang/freetype/truetype"
	"github.com/root4loot/goutils/log"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// Image is PNG encoded screenshot data.
type Image []byte

// WriteFile replaces path with the image. The data is written to a temporary file in
// the same directory first, so a failed write leaves any existing file untouched.
// A replaced file keeps its permission bits; a new file is created with mode 0644.
func (img Image) WriteFile(path string) error {
	if len(img) == 0 {
		return fmt.Errorf("write %s: empty image", path)
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		mode = info.Mode().Perm()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(img); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

// SimilarityToFile returns the ssdeep similarity score (0-100) between img and the
// image stored at path, or -1 when there is nothing comparable there.
func (img Image) SimilarityToFile(path string) int {
	previous, err := os.ReadFile(path)
	if err != nil {
		return -1
	}
	return img.Similarity(previous)
}

// Similarity returns the ssdeep similarity score (0-100) between two images, or -1
// when either is too small to hash.
func (img Image) Similarity(other []byte) int {
	hash1, err := ssdeep.FuzzyBytes(img)
	if err != nil {
		log.Debugf("Could not hash image: %v", err)
		return -1
	}

	hash2, err := ssdeep.FuzzyBytes(other)
	if err != nil {
		log.Debugf("Could not hash image: %v", err)
		return -1
	}

	score, err := ssdeep.Distance(hash1, hash2)
	if err != nil {
		return -1
	}
	return score
}

// Imprint adds the origin of rawURL to the bottom of the image.
func (img Image) Imprint(rawURL string) (Image, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	host := parsedURL.Host
	if strings.Contains(host, ":") {
		hostWithoutPort, port, _ := strings.Cut(host, ":")
		if (parsedURL.Scheme == "http" && port == "80") || (parsedURL.Scheme == "https" && port == "443") {
			host = hostWithoutPort
		}
	}

	printURL := parsedURL.Scheme + "://" + host

	decoded, err := png.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	face, err := loadFont()
	if err != nil {
		return nil, err
	}

	const padding = 20
	const borderSize = 1

	w := decoded.Bounds().Dx()
	h := decoded.Bounds().Dy() + padding*2 + borderSize
	dc := gg.NewContext(w, h)

	dc.DrawImage(decoded, 0, 0)

	yLine := float64(decoded.Bounds().Dy())
	dc.SetColor(color.Black)
	dc.SetLineWidth(float64(borderSize))
	dc.DrawLine(0, yLine, float64(w), yLine)
	dc.Stroke()
	dc.SetColor(color.White)
	dc.DrawRectangle(0, yLine+borderSize, float64(w), float64(padding*2))
	dc.Fill()
	dc.SetColor(color.Black)
	dc.SetFontFace(face)
	dc.DrawStringAnchored(printURL, float64(w)/2, yLine+float64(padding), 0.5, 0.5)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return buf.Bytes(), nil
}

func loadFont() (font.Face, error) {
	ttFont, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}

	return truetype.NewFace(ttFont, &truetype.Options{
		Size: 14,
	}), nil
}
