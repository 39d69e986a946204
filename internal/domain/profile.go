package domain

const DefaultCountryCode = "+1"

// Profile is the health profile form kept by the profile sidebar.
type Profile struct {
	Name             string `json:"name"`
	Age              string `json:"age"`
	Gender           string `json:"gender"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	BloodType        string `json:"bloodType"`
	Height           string `json:"height"`
	Weight           string `json:"weight"`
	Country          string `json:"country"`
	CountryCode      string `json:"countryCode"`
	State            string `json:"state"`
	Conditions       string `json:"conditions"`
	Allergies        string `json:"allergies"`
	Medications      string `json:"medications"`
	EmergencyContact string `json:"emergencyContact"`
}

// EmptyProfile returns the blank form shown before anything is saved.
func EmptyProfile() Profile {
	return Profile{CountryCode: DefaultCountryCode}
}

var countryDialCodes = map[string]string{
	"United States":  "+1",
	"India":          "+91",
	"United Kingdom": "+44",
	"Canada":         "+1",
	"Australia":      "+61",
	"Germany":        "+49",
	"France":         "+33",
	"Italy":          "+39",
	"Spain":          "+34",
	"Mexico":         "+52",
	"Brazil":         "+55",
	"Argentina":      "+54",
	"China":          "+86",
	"Japan":          "+81",
	"South Korea":    "+82",
	"Russia":         "+7",
	"South Africa":   "+27",
	"Nigeria":        "+234",
	"Egypt":          "+20",
	"Saudi Arabia":   "+966",
	"UAE":            "+971",
	"Pakistan":       "+92",
	"Bangladesh":     "+880",
	"Indonesia":      "+62",
	"Thailand":       "+66",
	"Vietnam":        "+84",
	"Philippines":    "+63",
	"Malaysia":       "+60",
	"Singapore":      "+65",
	"New Zealand":    "+64",
}

// DialCode returns the phone prefix for a country, falling back to +1 for
// countries outside the supported list.
func DialCode(country string) string {
	if code, ok := countryDialCodes[country]; ok {
		return code
	}
	return DefaultCountryCode
}
