//go:build gocv

package detector

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/markertrack/markertrack/internal/conf"
	"github.com/markertrack/markertrack/internal/marker"
)

// EngineAruco is the registered name of the OpenCV ArUco engine
const EngineAruco = "aruco"

// cv::aruco::CornerRefineMethod values
const (
	cornerRefineNone   = 0
	cornerRefineSubpix = 1
)

var arucoDictionaries = map[Dictionary]gocv.ArucoDictionaryCode{
	Dict4x4_50:        gocv.ArucoDict4x4_50,
	Dict4x4_100:       gocv.ArucoDict4x4_100,
	Dict4x4_250:       gocv.ArucoDict4x4_250,
	Dict4x4_1000:      gocv.ArucoDict4x4_1000,
	Dict5x5_50:        gocv.ArucoDict5x5_50,
	Dict5x5_100:       gocv.ArucoDict5x5_100,
	Dict5x5_250:       gocv.ArucoDict5x5_250,
	Dict5x5_1000:      gocv.ArucoDict5x5_1000,
	Dict6x6_50:        gocv.ArucoDict6x6_50,
	Dict6x6_100:       gocv.ArucoDict6x6_100,
	Dict6x6_250:       gocv.ArucoDict6x6_250,
	Dict6x6_1000:      gocv.ArucoDict6x6_1000,
	Dict7x7_50:        gocv.ArucoDict7x7_50,
	Dict7x7_100:       gocv.ArucoDict7x7_100,
	Dict7x7_250:       gocv.ArucoDict7x7_250,
	Dict7x7_1000:      gocv.ArucoDict7x7_1000,
	DictArucoOriginal: gocv.ArucoDictArucoOriginal,
	DictAprilTag16h5:  gocv.ArucoDictAprilTag_16h5,
	DictAprilTag25h9:  gocv.ArucoDictAprilTag_25h9,
	DictAprilTag36h10: gocv.ArucoDictAprilTag_36h10,
	DictAprilTag36h11: gocv.ArucoDictAprilTag_36h11,
}

// ArucoEngine detects markers with the OpenCV ArUco module. The native detector
// is built lazily for the first dictionary and parameter set it sees and rebuilt
// only when they change, which never happens within one pipeline run.
type ArucoEngine struct {
	mu       sync.Mutex
	detector *gocv.ArucoDetector
	dict     Dictionary
	params   Parameters
}

// NewArucoEngine creates an ArUco engine
func NewArucoEngine() *ArucoEngine {
	return &ArucoEngine{}
}

// Detect implements Engine
func (e *ArucoEngine) Detect(ctx context.Context, gray *image.Gray, dict Dictionary, params Parameters) (Result, error) {
	if gray == nil {
		return Result{}, fmt.Errorf("aruco: nil grayscale image")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	detector, err := e.detectorFor(dict, params)
	if err != nil {
		return Result{}, err
	}

	bounds := gray.Bounds()
	// the Mat borrows the pixel slice; Stride must equal width for a tight copy
	pix := gray.Pix
	if gray.Stride != bounds.Dx() {
		pix = make([]byte, 0, bounds.Dx()*bounds.Dy())
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			off := gray.PixOffset(bounds.Min.X, y)
			pix = append(pix, gray.Pix[off:off+bounds.Dx()]...)
		}
	}

	img, err := gocv.NewMatFromBytes(bounds.Dy(), bounds.Dx(), gocv.MatTypeCV8UC1, pix)
	if err != nil {
		return Result{}, fmt.Errorf("aruco: creating Mat: %w", err)
	}
	defer img.Close()

	corners, ids, rejected := detector.DetectMarkers(img)

	res := Result{
		IDs:      ids,
		Corners:  toQuads(corners),
		Rejected: toQuads(rejected),
	}
	return res, nil
}

func (e *ArucoEngine) detectorFor(dict Dictionary, params Parameters) (*gocv.ArucoDetector, error) {
	if e.detector != nil && e.dict == dict && e.params == params {
		return e.detector, nil
	}

	code, ok := arucoDictionaries[dict]
	if !ok {
		return nil, fmt.Errorf("aruco: unsupported dictionary %q", dict)
	}

	if e.detector != nil {
		e.detector.Close()
		e.detector = nil
	}

	detector := gocv.NewArucoDetectorWithParams(gocv.GetPredefinedDictionary(code), toArucoParameters(params))
	e.detector = &detector
	e.dict = dict
	e.params = params
	return e.detector, nil
}

// Close releases the native detector
func (e *ArucoEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.detector != nil {
		e.detector.Close()
		e.detector = nil
	}
	return nil
}

func toArucoParameters(p Parameters) gocv.ArucoDetectorParameters {
	ap := gocv.NewArucoDetectorParameters()
	ap.SetAdaptiveThreshWinSizeMin(p.AdaptiveThreshWinSizeMin)
	ap.SetAdaptiveThreshWinSizeMax(p.AdaptiveThreshWinSizeMax)
	ap.SetAdaptiveThreshWinSizeStep(p.AdaptiveThreshWinSizeStep)
	ap.SetAdaptiveThreshConstant(p.AdaptiveThreshConstant)
	ap.SetMinMarkerPerimeterRate(p.MinMarkerPerimeterRate)
	ap.SetMaxMarkerPerimeterRate(p.MaxMarkerPerimeterRate)
	ap.SetPolygonalApproxAccuracyRate(p.PolygonalApproxAccuracyRate)
	ap.SetMinCornerDistanceRate(p.MinCornerDistanceRate)
	ap.SetMinDistanceToBorder(p.MinDistanceToBorder)
	ap.SetMinMarkerDistanceRate(p.MinMarkerDistanceRate)
	ap.SetCornerRefinementWinSize(p.CornerRefinementWinSize)
	ap.SetCornerRefinementMaxIterations(p.CornerRefinementMaxIterations)
	ap.SetCornerRefinementMinAccuracy(p.CornerRefinementMinAccuracy)
	ap.SetMarkerBorderBits(p.MarkerBorderBits)
	ap.SetPerspectiveRemovePixelPerCell(p.PerspectiveRemovePixelPerCell)
	ap.SetPerspectiveRemoveIgnoredMarginPerCell(p.PerspectiveRemoveIgnoredMarginPerCell)
	ap.SetMaxErroneousBitsInBorderRate(p.MaxErroneousBitsInBorderRate)
	ap.SetMinOtsuStdDev(p.MinOtsuStdDev)
	ap.SetErrorCorrectionRate(p.ErrorCorrectionRate)

	if p.CornerRefinement {
		ap.SetCornerRefinementMethod(cornerRefineSubpix)
	} else {
		ap.SetCornerRefinementMethod(cornerRefineNone)
	}
	return ap
}

func toQuads(points [][]gocv.Point2f) []marker.Quad {
	quads := make([]marker.Quad, 0, len(points))
	for _, pts := range points {
		var q marker.Quad
		for i := 0; i < len(pts) && i < len(q); i++ {
			q[i] = marker.Point2f{X: pts[i].X, Y: pts[i].Y}
		}
		quads = append(quads, q)
	}
	return quads
}

func init() {
	Register(EngineAruco, func(*conf.DetectionSettings) (Engine, error) {
		return NewArucoEngine(), nil
	})
}
