package vectordb

// VectorRecord is one embedded chunk as stored in a workspace collection.
// Vector length must equal the fixed dimension of the collection the
// record is inserted into.
type VectorRecord struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"values"`
	Text     string            `json:"text"`
	DocID    string            `json:"docId"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// DistanceMetric selects how query vectors are compared to stored ones.
type DistanceMetric string

const (
	MetricCosine DistanceMetric = "cosine"
	MetricL2     DistanceMetric = "l2"
	MetricDot    DistanceMetric = "dot"
)
