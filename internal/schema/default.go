package schema

// Default returns the garden site-analysis intake schema.
func Default() *Schema {
	s, err := New(defaultSections())
	if err != nil {
		panic(err)
	}
	return s
}

func defaultSections() []Section {
	return []Section{
		{
			Title: "The ʻOhana & Vision",
			Icon:  "user",
			Fields: []FieldSpec{
				{ID: "visitDate", Label: "Visit Date", Shape: Date, Guidance: "Let's record the date of our visit to remember when we started this journey together."},
				{ID: "familyName", Label: "Family Name", Shape: ShortText, Guidance: "What is the name of the ʻohana we are working with today?"},
				{ID: "primaryContactName", Label: "Primary Contact Name", Shape: ShortText, Guidance: "Who is the main person we can connect with about the garden?"},
				{ID: "contactPhone", Label: "Contact Phone", Shape: Phone, Guidance: "A phone number helps us stay in touch for important updates, like scheduling the planting day."},
				{ID: "contactEmail", Label: "Contact Email", Shape: Email, Guidance: "An email address is great for sharing resources, links, and the final planting plan."},
				{ID: "siteAddressStreet", Label: "Site Address - Street", Shape: ShortText, Guidance: "Where is the garden located? Let's get the street address."},
				{ID: "siteAddressCity", Label: "Site Address - City", Shape: ShortText, Guidance: "Which city is the site in?"},
				{ID: "siteAddressState", Label: "Site Address - State", Shape: ShortText, Guidance: "And the state?"},
				{ID: "siteAddressZip", Label: "Site Address - ZIP Code", Shape: ShortText, Guidance: "The ZIP code helps us understand the general climate zone."},
				{ID: "taxMapKey", Label: "Tax Map Key (TMK)", Shape: ShortText, Guidance: "The TMK is the parcel ID for the property. It's used for property records in Hawaiʻi and can help us understand the land's history, size, and boundaries. It's okay if you don't have it right now."},
				{ID: "visionAndGoals", Label: "Vision & Goals", Shape: LongText, Placeholder: "What does a thriving garden look like to you in one year? In five years?", Guidance: "Let's dream a little! What does this garden look like when it's flourishing? What feelings does it bring? This vision will be our guide."},
				{ID: "favoriteFoods", Label: "Favorite Foods", Shape: LongText, Placeholder: "What are your favorite foods to eat? What do you want to learn to cook?", Guidance: "Food is at the heart of this project. Let's list the foods your ʻohana loves to eat. This helps us choose plants that you'll be excited to harvest and cook."},
				{ID: "gardenCaretakers", Label: "Garden Caretakers", Shape: MultiChoice, Options: []string{"Keiki (children)", "Mākua (adults)", "Kūpuna (elders)", "Community friends", "Other"}, AllowsOther: true, Guidance: "A garden needs many hands. Who in the ʻohana or community will be the kahu, the caretakers, for this special place?"},
				{ID: "communityConnection", Label: "Community Connection", Shape: LongText, Placeholder: "How do you hope this garden will connect your family and community?", Guidance: "How can this garden be a bridge? Think about sharing harvests, knowledge, or simply time with neighbors and friends. How will it strengthen your bonds?"},
			},
		},
		{
			Title: "Site Analysis",
			Icon:  "sun",
			Fields: []FieldSpec{
				{ID: "plantingZoneDescription", Label: "Proposed Location Description", Shape: ShortText, Guidance: "Let's walk the ʻāina. Describe the spot you have in mind for the garden. What's it near? What does it feel like?"},
				{ID: "plantingZoneDimensions", Label: "Planting Zone Dimensions", Shape: Dimensions, Guidance: "Let's measure the space. Knowing the length and width helps us plan how many plants can fit comfortably."},
				{ID: "plantingZonePhotos", Label: "Photos of Planting Zone", Shape: ShortText, Placeholder: "Enter photo URLs or notes", Guidance: "A picture is worth a thousand words. Let's take some photos from different angles. You can add links to them here or just make a note of the photos taken."},
				{ID: "sunlight", Label: "Sunlight Exposure", Shape: SingleChoice, Options: []string{"Full Sun (6+ hours)", "Partial Sun (4-6 hours)", "Dappled Shade", "Full Shade"}, Guidance: "Let's look up! How much direct sun does this spot get during the day? The sun is the main source of energy for our plants, so this is a crucial observation."},
				{ID: "waterSource", Label: "Primary Water Source", Shape: SingleChoice, Options: []string{"Municipal Tap", "Rainwater Catchment", "Well", "Stream/Natural Source", "Other"}, AllowsOther: true, Guidance: "Water is life. Where will the water for our garden come from? This helps us plan for irrigation and understand our resources."},
				{ID: "groundcover", Label: "Current Groundcover", Shape: MultiChoice, Options: []string{"Grass/Lawn", "Weeds", "Bare Dirt", "Mulch/Woodchips", "Concrete/Paving", "Other"}, AllowsOther: true, Guidance: "What's currently covering the ground? This tells us how much work will be needed to prepare the soil for planting."},
				{ID: "slope", Label: "Slope of Planting Area", Shape: SingleChoice, Options: []string{"Mostly Flat", "Gentle Slope", "Steep Slope"}, Guidance: "How does the land lie? Understanding the slope helps us think about water flow, erosion, and how to design the garden beds."},
				{ID: "obstacles", Label: "Potential Obstacles", Shape: MultiChoice, Options: []string{"Overhead power lines", "Underground pipes (water/septic)", "Large rocks", "Tree roots", "Other"}, AllowsOther: true, Guidance: "Let's look around, up, and think about what's underground. Are there any challenges we need to design around?"},
				{ID: "windConditions", Label: "Wind Conditions", Shape: SingleChoice, Options: []string{"North", "East", "South", "West", "Variable/Unsure"}, Guidance: "Which way does the makani, the wind, blow the strongest? This can affect which plants will thrive and whether we need to create a windbreak."},
				{ID: "soilVisual", Label: "Soil - Visual Description", Shape: SingleChoice, Options: []string{"Rich and dark", "Sandy/Light-colored", "Heavy clay", "Rocky", "Compacted/Hard"}, Guidance: "Let's look closely at the soil. What color is it? Does it look fluffy or hard? The visual cues tell us a lot about its health."},
				{ID: "soilTexture", Label: "Soil - Texture Test", Shape: SingleChoice, Options: []string{"Gritty (sandy)", "Smooth/Powdery (silty)", "Sticky/Forms a ribbon (clay)", "A good mix of all three (loam)"}, Guidance: "Let's get our hands dirty! Take a small amount of soil, wet it, and rub it between your fingers. How does it feel? This tells us about the soil's ability to hold water and nutrients."},
				{ID: "soilDrainage", Label: "Soil - Drainage Test", Shape: SingleChoice, Options: []string{"Drains very quickly", "Drains well (puddle gone in minutes)", "Drains slowly (puddle stays for hours)", "Waterlogs / Doesn't drain"}, Guidance: "If we pour some water here, what happens? Good drainage is key for healthy roots. We want to avoid 'wet feet' for most plants."},
				{ID: "soilPH", Label: "Soil - pH Level", Shape: Number, Placeholder: "e.g., 7.0", Guidance: "Do you happen to know the soil pH? You can use a simple test kit. Most plants like a neutral pH (around 6.5-7.0), but some have special preferences. It's okay if we don't know this yet."},
				{ID: "soilObservations", Label: "Soil - General Observations", Shape: LongText, Placeholder: "Any other soil observations, like worms, roots, or compaction?", Guidance: "Are there any other clues in the soil? Seeing lots of earthworms is a great sign! Are there lots of old roots? Let's note anything else we see."},
			},
		},
		{
			Title: "Planting Plan",
			Icon:  "leaf",
			Fields: []FieldSpec{
				{ID: "desiredKeyTrees", Label: "Desired Key Trees", Shape: MultiChoice, Options: []string{"ʻUlu (Breadfruit)", "Niu (Coconut)", "Maia (Banana)"}, Guidance: "These are important canoe plants, the cornerstones of a Polynesian food forest. Which of these foundational trees are you most excited to grow?"},
				{ID: "optionalLargeTrees", Label: "Optional Large Fruit Trees", Shape: LongText, Placeholder: "List other large trees here...", Guidance: "Beyond the key trees, are there other large fruit trees you dream of having? Maybe mango, avocado, or citrus?"},
				{ID: "hedgeAndVinePreference", Label: "Hedge & Vine Preference", Shape: MultiChoice, Options: []string{"Lilikoi (Passionfruit)", "Bele", "Chaya", "Moringa", "Kalo (Taro) for border", "Other"}, AllowsOther: true, Guidance: "Hedges and vines are great for creating living fences, privacy, and producing lots of food in small spaces. What interests you?"},
				{ID: "medicinalCulinaryGarden", Label: "Medicinal/Culinary Garden", Shape: SingleChoice, Options: []string{"Yes, a dedicated bed", "Yes, integrated among other plants", "Not at this time"}, Guidance: "Do you want a special space for laʻau lapaʻau (healing plants) or culinary herbs? We can make a dedicated bed or weave them throughout the garden."},
			},
		},
		{
			Title: "Action Plan & Kuleana",
			Icon:  "sparkles",
			Fields: []FieldSpec{
				{ID: "ohanaKuleana", Label: "ʻOhana Kuleana (Responsibilities)", Shape: RankedChecklist, Options: []string{"Clear existing vegetation", "Prepare the soil (weeding/amending)", "Ensure water access is ready", "Gather cardboard/mulch", "Commit to watering schedule"}, Guidance: "This is the family's kuleana, your shared responsibility and privilege. These are the steps you'll take to prepare the space and care for the garden."},
				{ID: "wfoKuleana", Label: "Well Fed ʻOhana Kuleana (Responsibilities)", Shape: RankedChecklist, Options: []string{"Source all required plants", "Develop final planting sketch", "Schedule community planting day", "Bring necessary tools & amendments", "Provide guidance on planting day"}, Guidance: "This is our kuleana to you. We'll take care of these tasks to support your vision and ensure we have a successful planting day together."},
			},
		},
	}
}
