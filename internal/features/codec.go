// Package features turns raw transaction records into the fixed-width numeric
// vectors the fraud model is trained and scored on.
//
// A Codec is fit exactly once from training records and is read-only
// afterwards. The same Codec instance must be used for training and for every
// scoring request; the vocabularies and scaling parameters it owns are never
// re-estimated at inference time.
package features

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Vector is the encoded form of one record. Names is shared with the codec
// that produced it and must not be modified.
type Vector struct {
	CodecID string
	Names   []string
	Values  []float64
}

func (v Vector) Len() int {
	return len(v.Values)
}

// TransformReport lists the fields of one record that were filled in by
// imputation or mapped to the unknown code.
type TransformReport struct {
	Imputed []string
	Unknown []string
}

// Codec owns the vocabularies and scaling parameters of one fitted feature space.
type Codec struct {
	id       string
	schema   Schema
	names    []string
	vocab    []*Vocabulary   // indexed by schema position, nil for numeric fields
	scaling  []ScalingParams // indexed by schema position, zero for categorical fields
	fitted   bool
	fittedAt time.Time
}

// NewCodec returns an unfitted codec for schema.
func NewCodec(schema Schema) *Codec {
	s := make(Schema, len(schema))
	copy(s, schema)
	return &Codec{schema: s, names: s.Names()}
}

// Fit scans records once and freezes one vocabulary per categorical field and
// one set of scaling parameters per numeric field. A failed Fit leaves the
// codec unfitted.
func (c *Codec) Fit(records []Record) error {
	if c.fitted {
		return &AlreadyFittedError{CodecID: c.id}
	}
	if err := c.schema.validate(); err != nil {
		return err
	}
	if len(records) == 0 {
		return &InsufficientDataError{Reason: "no training records"}
	}

	vocab := make([]*Vocabulary, len(c.schema))
	scaling := make([]ScalingParams, len(c.schema))

	for i, f := range c.schema {
		switch f.Kind {
		case Categorical:
			observed := make(map[string]struct{})
			for _, r := range records {
				v, ok := r.categorical(f.Name)
				if !ok {
					v = MissingToken
				}
				observed[v] = struct{}{}
			}
			vocab[i] = buildVocabulary(f.Name, observed)
		case Numeric:
			values := make([]float64, 0, len(records))
			for _, r := range records {
				if v, ok := r.numeric(f.Name); ok {
					values = append(values, v)
				}
			}
			p, err := estimateScaling(f.Name, values)
			if err != nil {
				return err
			}
			scaling[i] = p
		}
	}

	c.id = uuid.NewString()
	c.vocab = vocab
	c.scaling = scaling
	c.fittedAt = time.Now().UTC()
	c.fitted = true
	return nil
}

// Transform encodes r with the frozen parameters. Unseen categories and
// missing numerics are not errors.
func (c *Codec) Transform(r Record) (Vector, error) {
	v, _, err := c.transform(r, false)
	return v, err
}

// TransformWithReport is Transform plus the list of imputed and unknown fields.
func (c *Codec) TransformWithReport(r Record) (Vector, TransformReport, error) {
	return c.transform(r, true)
}

func (c *Codec) transform(r Record, report bool) (Vector, TransformReport, error) {
	var rep TransformReport
	if c == nil || !c.fitted {
		return Vector{}, rep, &NotFittedError{Component: "feature codec"}
	}

	values := make([]float64, len(c.schema))
	for i, f := range c.schema {
		switch f.Kind {
		case Categorical:
			raw, ok := r.categorical(f.Name)
			if !ok {
				raw = MissingToken
				if report {
					rep.Imputed = append(rep.Imputed, f.Name)
				}
			}
			code, known := c.vocab[i].Code(raw)
			if !known && report {
				rep.Unknown = append(rep.Unknown, f.Name)
			}
			values[i] = float64(code)
		case Numeric:
			p := c.scaling[i]
			x, ok := r.numeric(f.Name)
			if !ok {
				x = p.Mean
				if report {
					rep.Imputed = append(rep.Imputed, f.Name)
				}
			}
			values[i] = p.apply(x)
		}
	}

	return Vector{CodecID: c.id, Names: c.names, Values: values}, rep, nil
}

// ID identifies one successful Fit. Two codecs fit separately never share an ID.
func (c *Codec) ID() string {
	return c.id
}

func (c *Codec) Fitted() bool {
	return c != nil && c.fitted
}

func (c *Codec) FittedAt() time.Time {
	return c.fittedAt
}

// FeatureNames returns a copy of the vector layout.
func (c *Codec) FeatureNames() []string {
	names := make([]string, len(c.names))
	copy(names, c.names)
	return names
}

func (c *Codec) Schema() Schema {
	s := make(Schema, len(c.schema))
	copy(s, c.schema)
	return s
}

// Vocabulary returns the frozen vocabulary of a categorical field.
func (c *Codec) Vocabulary(field string) (*Vocabulary, bool) {
	for i, f := range c.schema {
		if f.Name == field && c.vocab != nil && c.vocab[i] != nil {
			return c.vocab[i], true
		}
	}
	return nil, false
}

// Scaling returns the frozen scaling parameters of a numeric field.
func (c *Codec) Scaling(field string) (ScalingParams, bool) {
	for i, f := range c.schema {
		if f.Name == field && f.Kind == Numeric && c.scaling != nil {
			return c.scaling[i], true
		}
	}
	return ScalingParams{}, false
}

type codecState struct {
	ID           string          `json:"id"`
	FittedAt     time.Time       `json:"fitted_at"`
	Schema       Schema          `json:"schema"`
	Vocabularies []*Vocabulary   `json:"vocabularies"`
	Scaling      []ScalingParams `json:"scaling"`
}

// MarshalJSON serializes a fitted codec.
func (c *Codec) MarshalJSON() ([]byte, error) {
	if !c.Fitted() {
		return nil, &NotFittedError{Component: "feature codec"}
	}
	return json.Marshal(codecState{
		ID:           c.id,
		FittedAt:     c.fittedAt,
		Schema:       c.schema,
		Vocabularies: c.vocab,
		Scaling:      c.scaling,
	})
}

// UnmarshalJSON restores a codec written by MarshalJSON.
func (c *Codec) UnmarshalJSON(data []byte) error {
	var st codecState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode codec: %w", err)
	}
	if err := st.Schema.validate(); err != nil {
		return err
	}
	if len(st.Vocabularies) != len(st.Schema) || len(st.Scaling) != len(st.Schema) {
		return &SchemaMismatchError{
			Reason:   "stored codec parameters do not cover the schema",
			Expected: fmt.Sprintf("%d fields", len(st.Schema)),
			Observed: fmt.Sprintf("%d vocabularies, %d scalings", len(st.Vocabularies), len(st.Scaling)),
		}
	}

	vocab := make([]*Vocabulary, len(st.Schema))
	for i, f := range st.Schema {
		if f.Kind != Categorical {
			continue
		}
		v := st.Vocabularies[i]
		if v == nil || len(v.Tokens) == 0 || v.Tokens[UnknownCode] != UnknownToken {
			return &SchemaMismatchError{Field: f.Name, Reason: "stored vocabulary lacks the reserved unknown entry"}
		}
		vocab[i] = newVocabulary(f.Name, v.Tokens)
	}
	for i, f := range st.Schema {
		if f.Kind == Numeric && st.Scaling[i].Spread == 0 {
			return &SchemaMismatchError{Field: f.Name, Reason: "stored scaling has zero spread"}
		}
	}

	*c = Codec{
		id:       st.ID,
		schema:   st.Schema,
		names:    st.Schema.Names(),
		vocab:    vocab,
		scaling:  st.Scaling,
		fitted:   true,
		fittedAt: st.FittedAt,
	}
	return nil
}
