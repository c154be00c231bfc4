package schema

// DefaultAITools returns the built-in AI-tool discovery domain descriptor.
// The vocabulary values are the canonical forms stored in the catalog; the
// extractor canonicalizes user phrasing onto them.
func DefaultAITools() *Schema {
	return &Schema{
		Name:    "ai-tools",
		Version: "2024-06",
		Vocabularies: map[string][]string{
			"categories": {
				"Code Assistant", "IDE", "Chatbot", "Agent Framework",
				"Image Generation", "Video Generation", "Audio Generation",
				"Search", "Testing", "Documentation", "Data Analysis",
				"Productivity", "DevOps",
			},
			"functionality": {
				"Code Completion", "Code Review", "Code Generation",
				"Refactoring", "Debugging", "Testing", "Documentation Generation",
				"Chat", "Semantic Search", "Agents", "Image Generation",
				"Speech To Text", "Text To Speech", "Translation",
				"Summarization", "Data Extraction",
			},
			"userTypes": {
				"Developer", "Designer", "Product Manager", "Data Scientist",
				"Writer", "Student", "Researcher", "Enterprise",
			},
			"interface": {
				"Web", "CLI", "IDE Plugin", "Desktop App", "Mobile App", "API",
			},
			"deployment": {
				"Cloud", "Self-Hosted", "Hybrid", "On-Premise", "Local",
			},
			"industries": {
				"Software", "Finance", "Healthcare", "Education", "Legal",
				"Marketing", "E-Commerce", "Gaming",
			},
			"pricingModels": {
				"Free", "Freemium", "Subscription", "Pay-As-You-Go",
				"One-Time", "Open Source", "Enterprise",
			},
			"billingPeriods": {
				"Monthly", "Annual", "Usage-Based",
			},
		},
		IntentFields: []FieldSpec{
			{Name: "primaryGoal", Type: TypeEnum, Required: true,
				Description: "what the user wants to do",
				EnumValues:  []string{"find", "compare", "recommend", "explore", "analyze", "explain"}},
			{Name: "referenceTool", Type: TypeString,
				Description: "tool named in the query, casing preserved"},
			{Name: "comparisonMode", Type: TypeEnum,
				Description: "relation to the reference tool",
				EnumValues:  []string{"similar_to", "vs", "alternative_to"}},
			{Name: "category", Type: TypeString, Vocabulary: "categories",
				Description: "tool category"},
			{Name: "functionality", Type: TypeArray, Vocabulary: "functionality",
				Description: "capabilities the user asks for"},
			{Name: "interface", Type: TypeString, Vocabulary: "interface",
				Description: "how the user wants to interact with the tool"},
			{Name: "deployment", Type: TypeString, Vocabulary: "deployment",
				Description: "where the tool must run"},
			{Name: "userType", Type: TypeString, Vocabulary: "userTypes",
				Description: "who the tool is for"},
			{Name: "industry", Type: TypeString, Vocabulary: "industries",
				Description: "industry context"},
			{Name: "pricingModel", Type: TypeString, Vocabulary: "pricingModels",
				Description: "pricing expectation"},
			{Name: "billingPeriod", Type: TypeString, Vocabulary: "billingPeriods",
				Description: "billing cadence"},
			{Name: "priceRange", Type: TypeObject,
				Description: "price constraint",
				Children: []FieldSpec{
					{Name: "min", Type: TypeNumber},
					{Name: "max", Type: TypeNumber},
					{Name: "operator", Type: TypeEnum, Required: true},
				}},
			{Name: "constraints", Type: TypeArray,
				Description: "free-form qualifiers such as cheaper or offline"},
			{Name: "semanticVariants", Type: TypeArray,
				Description: "up to 3 paraphrases of the query"},
			{Name: "confidence", Type: TypeNumber, Required: true,
				Description: "extraction confidence in [0, 1]"},
		},
		VectorCollections: []VectorCollection{
			{Name: "semantic", EmbeddingField: "semantic", Dimension: 768,
				Description: "general-purpose description embeddings", Enabled: true},
			{Name: "functionality", EmbeddingField: "functionality", Dimension: 768,
				Description: "capability-focused embeddings", Enabled: true},
			{Name: "interface", EmbeddingField: "interface", Dimension: 768,
				Description: "interface and workflow embeddings", Enabled: true},
		},
		Structured: StructuredDatabase{
			Collection: "tools",
			SearchFields: []string{
				"name", "description", "longDescription", "tagline",
			},
			FilterableFields: []string{
				"category", "functionality", "interface", "deployment",
				"pricingModel", "billingPeriod", "industry", "userType",
				"price", "hasFreeTier", "openSource",
			},
		},
		PriceOperators:     []string{"lt", "lte", "gt", "gte", "eq", "between"},
		EmbeddingDimension: 768,
	}
}
