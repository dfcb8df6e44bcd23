package opencv

import (
	"fmt"
	"image"
	"math"
	"sync"

	"reunite-go/config"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// Standardwerte für den Embedder
const (
	DefaultInputSize    = 96 // OpenFace nn4.small2 erwartet 96x96
	DefaultMinFaceSize  = 40
	DefaultScaleFactor  = 1.1
	DefaultMinNeighbors = 5
	maxDimension        = 1024
)

// FaceEmbedder erkennt Gesichter per Haar-Kaskade und berechnet den Vektor per DNN
type FaceEmbedder struct {
	cfg        config.OpenCVConfig
	classifier gocv.CascadeClassifier
	net        gocv.Net
	mutex      sync.Mutex // gocv.Net ist nicht threadsicher
	inputSize  int
}

// NewFaceEmbedder lädt Kaskade und Modell von der Platte
func NewFaceEmbedder(cfg config.OpenCVConfig) (*FaceEmbedder, error) {
	applyDefaults(&cfg)

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cfg.CascadePath) {
		classifier.Close()
		return nil, fmt.Errorf("konnte Haar-Kaskade nicht laden: %s", cfg.CascadePath)
	}

	net := gocv.ReadNet(cfg.ModelPath, "")
	if net.Empty() {
		classifier.Close()
		return nil, fmt.Errorf("konnte DNN-Modell nicht laden: %s", cfg.ModelPath)
	}

	log.WithFields(logFields).Infof("OpenCV face embedder loaded (cascade=%s, model=%s)", cfg.CascadePath, cfg.ModelPath)

	return &FaceEmbedder{
		cfg:        cfg,
		classifier: classifier,
		net:        net,
		inputSize:  cfg.InputSize,
	}, nil
}

func applyDefaults(cfg *config.OpenCVConfig) {
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultInputSize
	}
	if cfg.MinFaceSize <= 0 {
		cfg.MinFaceSize = DefaultMinFaceSize
	}
	if cfg.ScaleFactor <= 1 {
		cfg.ScaleFactor = DefaultScaleFactor
	}
	if cfg.MinNeighbors <= 0 {
		cfg.MinNeighbors = DefaultMinNeighbors
	}
}

// Embed dekodiert das Bild, wählt das größte Gesicht und liefert den L2-normierten Vektor.
// Ohne Gesicht ist das Ergebnis nil.
func (fe *FaceEmbedder) Embed(imageData []byte) ([]float32, error) {
	img, err := gocv.IMDecode(imageData, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("konnte Bild nicht dekodieren: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("bild ist leer")
	}

	// Bild für Performance skalieren wenn nötig
	if img.Cols() > maxDimension || img.Rows() > maxDimension {
		scale := float64(maxDimension) / float64(max(img.Cols(), img.Rows()))
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(img, &resized, image.Point{
			X: int(float64(img.Cols()) * scale),
			Y: int(float64(img.Rows()) * scale),
		}, 0, 0, gocv.InterpolationLinear)
		img, resized = resized, img
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	gocv.EqualizeHist(gray, &gray)

	fe.mutex.Lock()
	defer fe.mutex.Unlock()

	rects := fe.classifier.DetectMultiScaleWithParams(
		gray,
		fe.cfg.ScaleFactor,
		fe.cfg.MinNeighbors,
		0,
		image.Point{X: fe.cfg.MinFaceSize, Y: fe.cfg.MinFaceSize},
		image.Point{},
	)
	if len(rects) == 0 {
		return nil, nil
	}

	largest := rects[0]
	for _, r := range rects[1:] {
		if r.Dx()*r.Dy() > largest.Dx()*largest.Dy() {
			largest = r
		}
	}
	log.WithFields(logFields).Debugf("Detected %d face(s), using %v", len(rects), largest)

	face := img.Region(largest)
	defer face.Close()

	blob := gocv.BlobFromImage(
		face,
		1.0/255.0,
		image.Point{X: fe.inputSize, Y: fe.inputSize},
		gocv.NewScalar(0, 0, 0, 0),
		true,  // SwapRB - BGR zu RGB
		false, // Crop
	)
	defer blob.Close()

	fe.net.SetInput(blob, "")
	out := fe.net.Forward("")
	defer out.Close()

	total := out.Total()
	if total == 0 {
		return nil, fmt.Errorf("DNN lieferte keinen Vektor")
	}
	vec := make([]float32, total)
	for i := 0; i < total; i++ {
		vec[i] = out.GetFloatAt(0, i)
	}
	return normalize(vec), nil
}

// normalize skaliert den Vektor auf Länge 1
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// Close gibt Ressourcen frei
func (fe *FaceEmbedder) Close() error {
	fe.mutex.Lock()
	defer fe.mutex.Unlock()
	fe.net.Close()
	return fe.classifier.Close()
}
