package appointment

import "strings"

type TherapyType string

const (
	TherapyVamana       TherapyType = "vamana"
	TherapyVirechana    TherapyType = "virechana"
	TherapyBasti        TherapyType = "basti"
	TherapyNasya        TherapyType = "nasya"
	TherapyRaktamokshan TherapyType = "raktamokshan"
)

type Therapy struct {
	ID          TherapyType `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Duration    string      `json:"duration"`
	Price       string      `json:"price"`
}

type Precautions struct {
	Pre  []string `json:"pre"`
	Post []string `json:"post"`
}

var catalog = []Therapy{
	{ID: TherapyVamana, Name: "Vamana", Description: "Therapeutic vomiting for kapha conditions", Duration: "3-5 days", Price: "₹15,000"},
	{ID: TherapyVirechana, Name: "Virechana", Description: "Purgation therapy for pitta imbalances", Duration: "5-7 days", Price: "₹18,000"},
	{ID: TherapyBasti, Name: "Basti", Description: "Medicated enemas for vata disorders", Duration: "7-15 days", Price: "₹25,000"},
	{ID: TherapyNasya, Name: "Nasya", Description: "Nasal therapy for head conditions", Duration: "7-14 days", Price: "₹12,000"},
	{ID: TherapyRaktamokshan, Name: "Raktamokshan", Description: "Blood purification therapy", Duration: "5-10 days", Price: "₹20,000"},
}

var precautions = Precautions{
	Pre: []string{
		"Avoid heavy meals 24 hours before therapy",
		"Stay adequately hydrated",
		"Get proper rest the night before",
		"Avoid alcohol and smoking 48 hours prior",
		"Inform about any current medications",
		"Wear comfortable, loose clothing",
	},
	Post: []string{
		"Follow prescribed diet strictly",
		"Avoid strenuous physical activities",
		"Take medications as prescribed",
		"Monitor and report any unusual symptoms",
		"Maintain regular follow-up appointments",
		"Practice recommended yoga and meditation",
	},
}

// Therapies returns the bookable catalog in display order.
func Therapies() []Therapy {
	return append([]Therapy(nil), catalog...)
}

// LookupTherapy matches a catalog entry by id or display name, ignoring case.
func LookupTherapy(key string) (Therapy, bool) {
	key = strings.TrimSpace(key)
	for _, t := range catalog {
		if strings.EqualFold(string(t.ID), key) || strings.EqualFold(t.Name, key) {
			return t, true
		}
	}
	return Therapy{}, false
}

// TherapyName falls back to the raw value for ids outside the catalog.
func TherapyName(t TherapyType) string {
	if th, ok := LookupTherapy(string(t)); ok {
		return th.Name
	}
	return string(t)
}

func PrecautionsFor(TherapyType) Precautions {
	return Precautions{
		Pre:  append([]string(nil), precautions.Pre...),
		Post: append([]string(nil), precautions.Post...),
	}
}
