package card

import (
	"encoding/json"

	"golang.org/x/exp/slog"
)

// Profile is the normalized view of a card used for a single payment run.
// The full number is only reachable through PAN(); logging and JSON
// encoding expose the masked form.
type Profile struct {
	pan         string
	Brand       Brand
	ExpiryMonth int
	ExpiryYear  int
	Masked      string
	Holder      string
}

func NewProfile(pan string, month, year int, holder string) Profile {
	pan = Normalize(pan)
	return Profile{
		pan:         pan,
		Brand:       DetectBrand(pan),
		ExpiryMonth: month,
		ExpiryYear:  year,
		Masked:      Mask(pan),
		Holder:      holder,
	}
}

// PAN returns the normalized card number. Only gateway clients need it.
func (p Profile) PAN() string {
	return p.pan
}

func (p Profile) String() string {
	return p.Masked
}

func (p Profile) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("card", p.Masked),
		slog.String("brand", string(p.Brand)),
	)
}

func (p Profile) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Masked      string `json:"masked"`
		Brand       Brand  `json:"brand"`
		ExpiryMonth int    `json:"expiryMonth"`
		ExpiryYear  int    `json:"expiryYear"`
		Holder      string `json:"holder,omitempty"`
	}{p.Masked, p.Brand, p.ExpiryMonth, p.ExpiryYear, p.Holder})
}
