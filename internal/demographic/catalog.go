package demographic

// Dimension describes one indicator code and the groups it is split into.
type Dimension struct {
	Code   string
	Name   string
	Groups []string
}

var catalog = []Dimension{
	{Code: "gen", Name: "Gender", Groups: []string{"female", "male"}},
	{Code: "cit", Name: "Citizenship", Groups: []string{"ger", "nonger"}},
	{Code: "edu", Name: "Education", Groups: []string{"avg", "high", "low"}},
	{Code: "loc", Name: "Location", Groups: []string{"east", "west"}},
	{Code: "inc", Name: "Income", Groups: []string{"avg", "high", "low"}},
	{Code: "age", Name: "Age", Groups: []string{"1", "2", "3", "4", "5"}},
}

// Catalog lists the known indicator dimensions in display order.
func Catalog() []Dimension {
	out := make([]Dimension, len(catalog))
	for i, d := range catalog {
		d.Groups = append([]string(nil), d.Groups...)
		out[i] = d
	}
	return out
}

// DimensionName returns the display name for an indicator code, or the code itself.
func DimensionName(code string) string {
	for _, d := range catalog {
		if d.Code == code {
			return d.Name
		}
	}
	return code
}
