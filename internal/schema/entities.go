package schema

// Entity names accepted on the HTTP surface.
const (
	Property       = "property"
	PhysicalPerson = "physical_person"
	MoralPerson    = "moral_person"
	Association    = "association"
	Artwork        = "artwork"
)

var credits = Collection{Field: "creditos", GroupType: "credit", FilePrefix: "creditFile"}

func init() {
	Register(&Schema{
		Entity:   Property,
		Category: "properties",
		Singles:  []string{"escritura", "certificado"},
		Arrays:   []string{"fotos", "archivosAdicionales"},
		Collections: []Collection{
			{Field: "locals", GroupType: "local", FilePrefix: "localPhotos"},
		},
	})
	Register(&Schema{
		Entity:   PhysicalPerson,
		Category: "physical-persons",
		Singles:  []string{"rfcFile", "ineFile", "curpFile"},
		Arrays:   []string{"additionalFiles"},
		Collections: []Collection{
			credits,
			{Field: "seguros", GroupType: "insurance", FilePrefix: "insuranceFile"},
		},
	})
	Register(&Schema{
		Entity:      MoralPerson,
		Category:    "moral-persons",
		Singles:     []string{"rfcFile", "actaConstitutiva"},
		Arrays:      []string{"additionalFiles"},
		Collections: []Collection{credits},
	})
	Register(&Schema{
		Entity:   Association,
		Category: "associations",
		Singles:  []string{"actaConstitutiva", "logo"},
		Arrays:   []string{"photos"},
		Collections: []Collection{
			{Field: "archivosAdicionales", GroupType: "additional", FilePrefix: "additionalFile"},
		},
	})
	Register(&Schema{
		Entity:   Artwork,
		Category: "artworks",
		Singles:  []string{"certificate"},
		Arrays:   []string{"photos", "additionalFiles"},
	})
}
