package wildcard

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/rafabd1/Wildfuzz/internal/utils"
)

// Field identifies one attribute of a response Signature.
type Field int

const (
	FieldStatus Field = iota
	FieldLength
	FieldContentType
	FieldLocation
	FieldCacheHeaders
	FieldCacheable
	FieldLineCount
	FieldWordCount
	FieldHTMLTitle
	FieldTagCount
	FieldBodyHash

	numFields
)

var fieldNames = [numFields]string{
	"status", "length", "content-type", "location", "cache-headers", "cacheable",
	"lines", "words", "title", "tags", "body-hash",
}

func (f Field) String() string {
	if f < 0 || f >= numFields {
		return "field(" + strconv.Itoa(int(f)) + ")"
	}
	return fieldNames[f]
}

// Fields returns every field of the signature vocabulary in order.
func Fields() []Field {
	out := make([]Field, numFields)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

// FieldSet is a bit set of Fields.
type FieldSet uint32

// AllFields contains every field of the vocabulary.
const AllFields = FieldSet(1<<numFields - 1)

func (s FieldSet) Has(f Field) bool { return s&(1<<f) != 0 }

func (s FieldSet) with(f Field) FieldSet    { return s | 1<<f }
func (s FieldSet) without(f Field) FieldSet { return s &^ (1 << f) }

// Fields lists the members of s in vocabulary order.
func (s FieldSet) Fields() []Field {
	var out []Field
	for f := Field(0); f < numFields; f++ {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

func (s FieldSet) String() string {
	names := make([]string, 0, numFields)
	for _, f := range s.Fields() {
		names = append(names, f.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Signature is the fixed-vocabulary descriptor of one response.
// Values are kept in their canonical string form so fields compare uniformly.
type Signature struct {
	values [numFields]string
}

// Get returns the canonical value of f.
func (s Signature) Get(f Field) string {
	if f < 0 || f >= numFields {
		return ""
	}
	return s.values[f]
}

// Status returns the status code field as an int.
func (s Signature) Status() int {
	n, _ := strconv.Atoi(s.values[FieldStatus])
	return n
}

// Length returns the body length field as an int.
func (s Signature) Length() int {
	n, _ := strconv.Atoi(s.values[FieldLength])
	return n
}

// Extract builds the Signature of a response.
func Extract(status int, header http.Header, body []byte) Signature {
	if header == nil {
		header = http.Header{}
	}
	var sig Signature
	sig.values[FieldStatus] = strconv.Itoa(status)
	sig.values[FieldLength] = strconv.Itoa(len(body))
	sig.values[FieldContentType] = utils.MediaType(header)
	sig.values[FieldLocation] = header.Get("Location")
	sig.values[FieldCacheHeaders] = utils.CacheHeadersSummary(header)
	sig.values[FieldCacheable] = strconv.FormatBool(utils.IsCacheable(header))
	sig.values[FieldLineCount] = strconv.Itoa(lineCount(body))
	sig.values[FieldWordCount] = strconv.Itoa(len(bytes.Fields(body)))

	features := utils.ExtractHTMLFeatures(body)
	sig.values[FieldHTMLTitle] = features.Title
	sig.values[FieldTagCount] = strconv.Itoa(features.TagCount)

	sum := sha256.Sum256(body)
	sig.values[FieldBodyHash] = hex.EncodeToString(sum[:])
	return sig
}

func lineCount(body []byte) int {
	if len(body) == 0 {
		return 0
	}
	n := bytes.Count(body, []byte{'\n'})
	if body[len(body)-1] != '\n' {
		n++
	}
	return n
}

// Diff returns the fields whose values differ between s and other.
func (s Signature) Diff(other Signature) FieldSet {
	var d FieldSet
	for f := Field(0); f < numFields; f++ {
		if s.values[f] != other.values[f] {
			d = d.with(f)
		}
	}
	return d
}
