// Package dataset loads raw transaction tables into feature records and
// generates synthetic training data.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"fraudscore/internal/features"

	"github.com/rs/zerolog/log"
)

const (
	// ColumnTransactionID joins the transaction and identity tables.
	ColumnTransactionID = "TransactionID"
	// ColumnLabel holds the binary fraud label.
	ColumnLabel = "isFraud"
)

type table struct {
	header []string
	index  map[string]int
	rows   [][]string
}

func readTable(r io.Reader) (*table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	t := &table{header: header, index: make(map[string]int, len(header))}
	for i, col := range header {
		t.index[strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))] = i
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", len(t.rows)+2, err)
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

func (t *table) value(row []string, col string) (string, bool) {
	i, ok := t.index[col]
	if !ok || i >= len(row) {
		return "", false
	}
	v := strings.TrimSpace(row[i])
	if v == "" || strings.EqualFold(v, "nan") {
		return "", false
	}
	return v, true
}

// ReadCSV parses a header-driven CSV of raw transactions. Empty and NaN cells
// are missing values; the isFraud column is optional. Rows whose cells cannot
// be parsed are skipped and logged.
func ReadCSV(r io.Reader, schema features.Schema) ([]features.Record, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, err
	}
	return t.records(schema, nil)
}

// LoadCSV reads a transaction CSV using the default schema.
func LoadCSV(path string) ([]features.Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	records, err := ReadCSV(file, features.DefaultSchema())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Info().
		Str("file", path).
		Int("records", len(records)).
		Msg("CSV data loaded successfully")
	return records, nil
}

// LoadTransactions reads the transaction table and left-joins the identity
// table on TransactionID. Identity columns only fill fields the transaction
// table does not carry. identityPath may be empty.
func LoadTransactions(transactionPath, identityPath string) ([]features.Record, error) {
	if identityPath == "" {
		return LoadCSV(transactionPath)
	}

	txFile, err := os.Open(transactionPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open transaction file: %w", err)
	}
	defer txFile.Close()

	idFile, err := os.Open(identityPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity file: %w", err)
	}
	defer idFile.Close()

	records, err := Join(txFile, idFile, features.DefaultSchema())
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("transactions", transactionPath).
		Str("identity", identityPath).
		Int("records", len(records)).
		Msg("Joined transaction data loaded successfully")
	return records, nil
}

// Join parses both tables and left-joins identity rows onto transactions.
// TransactionID is expected to be unique in the identity table; when it is
// not, the first row for an ID is used and the duplicates are logged.
func Join(transactions, identity io.Reader, schema features.Schema) ([]features.Record, error) {
	tx, err := readTable(transactions)
	if err != nil {
		return nil, fmt.Errorf("transactions: %w", err)
	}
	id, err := readTable(identity)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}

	if _, ok := tx.index[ColumnTransactionID]; !ok {
		return nil, fmt.Errorf("transactions: missing %s column", ColumnTransactionID)
	}
	if _, ok := id.index[ColumnTransactionID]; !ok {
		return nil, fmt.Errorf("identity: missing %s column", ColumnTransactionID)
	}

	byID := make(map[string][]string, len(id.rows))
	duplicates := 0
	for _, row := range id.rows {
		key, ok := id.value(row, ColumnTransactionID)
		if !ok {
			continue
		}
		if _, seen := byID[key]; seen {
			duplicates++
			continue
		}
		byID[key] = row
	}
	if duplicates > 0 {
		log.Warn().
			Int("duplicates", duplicates).
			Msg("Identity table repeats TransactionID values, keeping the first row of each")
	}

	return tx.records(schema, func(row []string, col string) (string, bool) {
		if v, ok := tx.value(row, col); ok {
			return v, true
		}
		if _, carried := tx.index[col]; carried {
			return "", false
		}
		key, ok := tx.value(row, ColumnTransactionID)
		if !ok {
			return "", false
		}
		idRow, ok := byID[key]
		if !ok {
			return "", false
		}
		return id.value(idRow, col)
	})
}

type lookup func(row []string, col string) (string, bool)

func (t *table) records(schema features.Schema, get lookup) ([]features.Record, error) {
	if get == nil {
		get = t.value
	}

	records := make([]features.Record, 0, len(t.rows))
	skipped := 0
	for i, row := range t.rows {
		r, err := parseRow(schema, row, get)
		if err != nil {
			skipped++
			log.Warn().Err(err).Int("line", i+2).Msg("Skipping malformed row")
			continue
		}
		records = append(records, r)
	}

	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Int("kept", len(records)).Msg("Some rows could not be parsed")
	}
	return records, nil
}

func parseRow(schema features.Schema, row []string, get lookup) (features.Record, error) {
	r := features.NewRecord()
	for _, f := range schema {
		v, ok := get(row, f.Name)
		if !ok {
			continue
		}
		switch f.Kind {
		case features.Numeric:
			x, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return features.Record{}, fmt.Errorf("field %s: %w", f.Name, err)
			}
			r.Numeric[f.Name] = x
		case features.Categorical:
			r.Categorical[f.Name] = v
		}
	}

	if v, ok := get(row, ColumnLabel); ok {
		x, err := strconv.ParseFloat(v, 64)
		if err != nil || (x != 0 && x != 1) {
			return features.Record{}, fmt.Errorf("field %s: invalid label %q", ColumnLabel, v)
		}
		r = r.WithLabel(int(x))
	}
	return r, nil
}

// WriteCSV writes records with one column per schema field followed by
// isFraud. Missing values are written as empty cells.
func WriteCSV(w io.Writer, schema features.Schema, records []features.Record) error {
	writer := csv.NewWriter(w)

	header := append([]string{ColumnTransactionID}, schema.Names()...)
	header = append(header, ColumnLabel)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	row := make([]string, len(header))
	for i, r := range records {
		row[0] = strconv.Itoa(i + 1)
		for j, f := range schema {
			row[j+1] = ""
			switch f.Kind {
			case features.Numeric:
				if x, ok := r.Numeric[f.Name]; ok && !math.IsNaN(x) {
					row[j+1] = strconv.FormatFloat(x, 'f', -1, 64)
				}
			case features.Categorical:
				row[j+1] = r.Categorical[f.Name]
			}
		}
		row[len(row)-1] = ""
		if r.Label != nil {
			row[len(row)-1] = strconv.Itoa(*r.Label)
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// SaveCSV writes records to path using the default schema.
func SaveCSV(path string, records []features.Record) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	if err := WriteCSV(file, features.DefaultSchema(), records); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Labels extracts the training labels, failing on the first unlabeled record.
func Labels(records []features.Record) ([]int, error) {
	labels := make([]int, len(records))
	for i, r := range records {
		if r.Label == nil {
			return nil, &features.InsufficientDataError{
				Field:    ColumnLabel,
				Observed: i,
				Reason:   fmt.Sprintf("record %d has no label", i),
			}
		}
		labels[i] = *r.Label
	}
	return labels, nil
}
