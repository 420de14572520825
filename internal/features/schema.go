package features

// Raw field names as they appear in the transaction and identity tables.
const (
	FieldTransactionAmt = "TransactionAmt"
	FieldProductCD      = "ProductCD"
	FieldCard1          = "card1"
	FieldCard4          = "card4"
	FieldAddr1          = "addr1"
	FieldDist1          = "dist1"
	FieldDeviceType     = "DeviceType"
)

// Kind distinguishes how a raw field is encoded.
type Kind string

const (
	Numeric     Kind = "numeric"
	Categorical Kind = "categorical"
)

type Field struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Schema is the ordered list of modeled fields. The order of a schema is the
// order of every vector produced from it.
type Schema []Field

// DefaultSchema returns the seven transaction fields the fraud model is built on.
func DefaultSchema() Schema {
	return Schema{
		{Name: FieldTransactionAmt, Kind: Numeric},
		{Name: FieldProductCD, Kind: Categorical},
		{Name: FieldCard1, Kind: Numeric},
		{Name: FieldCard4, Kind: Categorical},
		{Name: FieldAddr1, Kind: Numeric},
		{Name: FieldDist1, Kind: Numeric},
		{Name: FieldDeviceType, Kind: Categorical},
	}
}

func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

func (s Schema) validate() error {
	if len(s) == 0 {
		return &SchemaMismatchError{Reason: "schema has no fields"}
	}
	seen := make(map[string]bool, len(s))
	for _, f := range s {
		if f.Name == "" {
			return &SchemaMismatchError{Reason: "schema field with empty name"}
		}
		if seen[f.Name] {
			return &SchemaMismatchError{Field: f.Name, Reason: "duplicate field"}
		}
		if f.Kind != Numeric && f.Kind != Categorical {
			return &SchemaMismatchError{Field: f.Name, Expected: "numeric|categorical", Observed: string(f.Kind)}
		}
		seen[f.Name] = true
	}
	return nil
}
