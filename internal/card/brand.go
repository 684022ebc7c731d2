package card

type Brand string

const (
	Visa       Brand = "Visa"
	Mastercard Brand = "Mastercard"
	Amex       Brand = "Amex"
	Discover   Brand = "Discover"
	Unknown    Brand = "Unknown"
)

// DetectBrand maps the leading digit of a PAN to its network.
func DetectBrand(pan string) Brand {
	if pan == "" {
		return Unknown
	}
	switch pan[0] {
	case '4':
		return Visa
	case '5':
		return Mastercard
	case '3':
		return Amex
	case '6':
		return Discover
	default:
		return Unknown
	}
}
