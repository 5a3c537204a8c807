package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Field names of the validator record, both the ones the API returns and the
// ones the pipeline derives.
const (
	FieldPublicKey          = "public_key"
	FieldAccountInfo        = "account_info"
	FieldAveragePerformance = "average_performance"
	FieldNetworkShare       = "network_share"
	FieldFee                = "fee"
	FieldRank               = "rank"
	FieldDelegatorsNumber   = "delegators_number"

	FieldAccountInfoURL       = "account_info_url"
	FieldAccountInfoActive    = "account_info_active"
	FieldTenured              = "is_3_months_old"
	FieldOnchainParticipation = "onchain_voting_participation"
)

// Record is a validator as returned by the API plus the fields derived from
// it. Keys keep their insertion order so the CSV header follows the API.
type Record struct {
	keys   []string
	values map[string]interface{}
}

func NewRecord() *Record {
	return &Record{values: make(map[string]interface{})}
}

// Set overwrites key in place or appends it when new.
func (r *Record) Set(key string, value interface{}) {
	if r.values == nil {
		r.values = make(map[string]interface{})
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

func (r *Record) Get(key string) (interface{}, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r *Record) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

func (r *Record) Keys() []string {
	keys := make([]string, len(r.keys))
	copy(keys, r.keys)
	return keys
}

func (r *Record) Len() int {
	return len(r.keys)
}

func (r *Record) PublicKey() string {
	s, _ := r.values[FieldPublicKey].(string)
	return s
}

// Object returns key as a nested object. A null or missing value yields false.
func (r *Record) Object(key string) (map[string]interface{}, bool) {
	obj, ok := r.values[key].(map[string]interface{})
	return obj, ok && obj != nil
}

// Float reads key as a number. Numeric strings are accepted since the API
// ships some amounts quoted.
func (r *Record) Float(key string) (float64, bool) {
	v, ok := r.values[key]
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

func (r *Record) Bool(key string) bool {
	b, _ := r.values[key].(bool)
	return b
}

func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("validator record: expected object, got %v", tok)
	}

	*r = Record{values: make(map[string]interface{})}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("validator record: unexpected key %v", tok)
		}

		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("validator record: field %s: %w", key, err)
		}
		r.Set(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.values[key])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ToFloat converts the numeric shapes a decoded record can hold.
func ToFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case decimal.Decimal:
		return n.InexactFloat64(), true
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return 0, false
		}
		return d.InexactFloat64(), true
	default:
		return 0, false
	}
}

// Round rounds half away from zero to the given number of decimals.
func Round(f float64, places int32) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f
	}
	return decimal.NewFromFloat(f).Round(places).InexactFloat64()
}

// FormatValue renders a record value as a single text cell.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case decimal.Decimal:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
