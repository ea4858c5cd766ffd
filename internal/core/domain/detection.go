package domain

// Detection is one raw object detection returned by the ML endpoint.
type Detection struct {
	BBox       [4]float64 `json:"bbox"`
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
}

// Prediction is a detection matched against the seller's product catalog.
type Prediction struct {
	BBox            [4]float64 `json:"bbox"`
	ProductName     string     `json:"product_name"`
	Confidence      float64    `json:"confidence"`
	SimilarityScore float64    `json:"similarity_score"`
	ProductID       ProductID  `json:"product_id"`
	Price           float64    `json:"price"`
}

// FrameResult is the outcome of one capture cycle. A failed cycle reduces
// to the zero value, never to an error.
type FrameResult struct {
	Detections  []Detection  `json:"detections"`
	Predictions []Prediction `json:"predictions"`
}
