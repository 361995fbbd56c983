package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type 区分分析记录的来源。
type Type string

const (
	TypeImage Type = "image"
	TypeVoice Type = "voice"
)

var ErrVariantMismatch = errors.New("history: record type does not match output")

// ImageOutput is the result of a photo diagnosis.
type ImageOutput struct {
	Diagnosis                string `json:"diagnosis"`
	TreatmentRecommendations string `json:"treatmentRecommendations"`
}

// VoiceOutput is the result of a spoken question.
type VoiceOutput struct {
	Text string `json:"text"`
}

// Output holds exactly one variant, selected by the record type.
type Output struct {
	Image *ImageOutput
	Voice *VoiceOutput
}

// Summary returns the text a list view shows for the output.
func (o Output) Summary() string {
	switch {
	case o.Image != nil:
		return o.Image.Diagnosis
	case o.Voice != nil:
		return o.Voice.Text
	default:
		return ""
	}
}

// Record is one completed analysis. Input is the data reference of the
// submitted photo or voice clip.
type Record struct {
	ID     string    `json:"id"`
	Type   Type      `json:"type"`
	Input  string    `json:"input"`
	Output Output    `json:"output"`
	Date   time.Time `json:"date"`
}

// NewImageRecord builds an unsaved image record.
func NewImageRecord(input string, out ImageOutput, at time.Time) Record {
	return Record{Type: TypeImage, Input: input, Output: Output{Image: &out}, Date: at}
}

// NewVoiceRecord builds an unsaved voice record.
func NewVoiceRecord(input string, out VoiceOutput, at time.Time) Record {
	return Record{Type: TypeVoice, Input: input, Output: Output{Voice: &out}, Date: at}
}

// Validate checks that the output variant agrees with the type.
func (r Record) Validate() error {
	switch r.Type {
	case TypeImage:
		if r.Output.Image == nil || r.Output.Voice != nil {
			return fmt.Errorf("%w: %s", ErrVariantMismatch, r.Type)
		}
	case TypeVoice:
		if r.Output.Voice == nil || r.Output.Image != nil {
			return fmt.Errorf("%w: %s", ErrVariantMismatch, r.Type)
		}
	default:
		return fmt.Errorf("history: unknown record type %q", r.Type)
	}
	return nil
}

type recordJSON struct {
	ID     string          `json:"id"`
	Type   Type            `json:"type"`
	Input  string          `json:"input"`
	Output json.RawMessage `json:"output"`
	Date   time.Time       `json:"date"`
}

// MarshalJSON writes the output as the bare variant object.
func (r Record) MarshalJSON() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	var variant any = r.Output.Image
	if r.Type == TypeVoice {
		variant = r.Output.Voice
	}
	out, err := json.Marshal(variant)
	if err != nil {
		return nil, err
	}

	return json.Marshal(recordJSON{ID: r.ID, Type: r.Type, Input: r.Input, Output: out, Date: r.Date})
}

// UnmarshalJSON decodes the output variant named by the type field.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	rec := Record{ID: raw.ID, Type: Type(strings.ToLower(string(raw.Type))), Input: raw.Input, Date: raw.Date}
	if len(raw.Output) == 0 || string(raw.Output) == "null" {
		return fmt.Errorf("%w: missing output", ErrVariantMismatch)
	}

	switch rec.Type {
	case TypeImage:
		var out ImageOutput
		if err := strictUnmarshal(raw.Output, &out); err != nil {
			return fmt.Errorf("%w: %v", ErrVariantMismatch, err)
		}
		rec.Output.Image = &out
	case TypeVoice:
		var out VoiceOutput
		if err := strictUnmarshal(raw.Output, &out); err != nil {
			return fmt.Errorf("%w: %v", ErrVariantMismatch, err)
		}
		rec.Output.Voice = &out
	default:
		return fmt.Errorf("history: unknown record type %q", raw.Type)
	}

	*r = rec
	return nil
}

func strictUnmarshal(data []byte, dst any) error {
	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
