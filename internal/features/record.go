package features

import "math"

// Record is one raw transaction. A numeric field is missing when its key is
// absent or the value is NaN or infinite; a categorical field is missing when its key is
// absent or the value is empty. Label is only set for training data.
type Record struct {
	Numeric     map[string]float64
	Categorical map[string]string
	Label       *int
}

// NewRecord returns an empty record ready to be filled.
func NewRecord() Record {
	return Record{
		Numeric:     make(map[string]float64),
		Categorical: make(map[string]string),
	}
}

// WithLabel returns a copy of r carrying the given training label.
func (r Record) WithLabel(label int) Record {
	r.Label = &label
	return r
}

func (r Record) numeric(name string) (float64, bool) {
	v, ok := r.Numeric[name]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func (r Record) categorical(name string) (string, bool) {
	v, ok := r.Categorical[name]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Transaction is the typed wire form of a raw record. Nil pointers and empty
// strings are missing values.
type Transaction struct {
	TransactionAmt *float64 `json:"TransactionAmt"`
	ProductCD      string   `json:"ProductCD"`
	Card1          *int64   `json:"card1"`
	Card4          string   `json:"card4"`
	Addr1          *int64   `json:"addr1"`
	Dist1          *float64 `json:"dist1"`
	DeviceType     string   `json:"DeviceType"`
	IsFraud        *int     `json:"isFraud,omitempty"`
}

// Record converts t into the codec's raw record form.
func (t Transaction) Record() Record {
	r := NewRecord()
	if t.TransactionAmt != nil {
		r.Numeric[FieldTransactionAmt] = *t.TransactionAmt
	}
	if t.Card1 != nil {
		r.Numeric[FieldCard1] = float64(*t.Card1)
	}
	if t.Addr1 != nil {
		r.Numeric[FieldAddr1] = float64(*t.Addr1)
	}
	if t.Dist1 != nil {
		r.Numeric[FieldDist1] = *t.Dist1
	}
	if t.ProductCD != "" {
		r.Categorical[FieldProductCD] = t.ProductCD
	}
	if t.Card4 != "" {
		r.Categorical[FieldCard4] = t.Card4
	}
	if t.DeviceType != "" {
		r.Categorical[FieldDeviceType] = t.DeviceType
	}
	if t.IsFraud != nil {
		label := *t.IsFraud
		r.Label = &label
	}
	return r
}
