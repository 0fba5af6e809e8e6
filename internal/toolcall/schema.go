package toolcall

import "github.com/afi-assist/assist-gateway/internal/domain"

// Action names the assistant uses for its tools.
const (
	ActionUnifiedEmail      = "sendUnifiedEmail"
	ActionEscalationEmail   = "sendEscalationEmail"
	ActionLogisticsSMS      = "sendLogisticsSMS"
	ActionProductSuggestion = "sendProductSuggestion"
)

// SessionField names a session value used when no argument alias is present.
type SessionField int

const (
	NoSession SessionField = iota
	SessionName
	SessionEmail
)

// Field resolves one canonical payload field: the first truthy alias wins,
// then the session value, then Default.
type Field struct {
	Name    string
	Aliases []string
	Session SessionField
	Default any
}

// Schema describes the payload built for one action.
type Schema struct {
	Action string
	Intent domain.Intent
	Fields []Field
}

const (
	notSpecified    = "Non spécifié"
	unknownEmail    = "unknown@client.com"
	FieldClientName = "client_name"
	FieldEmail      = "client_email"
)

var (
	clientName = Field{
		Name:    FieldClientName,
		Aliases: []string{"client_name"},
		Session: SessionName,
		Default: notSpecified,
	}
	clientEmail = Field{
		Name:    FieldEmail,
		Aliases: []string{"client_email"},
		Session: SessionEmail,
		Default: unknownEmail,
	}
	productModel = Field{
		Name:    "product_model",
		Aliases: []string{"product_model", "model"},
		Default: notSpecified,
	}
)

// The alias lists mirror the argument shapes the assistant has produced
// over time. Order matters.
var schemas = map[string]Schema{
	ActionUnifiedEmail: {
		Action: ActionUnifiedEmail,
		Intent: domain.IntentWrap,
		Fields: []Field{
			clientName,
			clientEmail,
			productModel,
			{
				Name:    "problem_description",
				Aliases: []string{"problem_description", "description", "issue"},
				Default: "Aucun description de problème fournie",
			},
			{
				Name:    "wrap_summary",
				Aliases: []string{"wrap_summary", "summary", "wrap_content"},
				Default: "Aucun résumé fourni",
			},
		},
	},
	ActionEscalationEmail: {
		Action: ActionEscalationEmail,
		Intent: domain.IntentEscalation,
		Fields: []Field{
			clientName,
			clientEmail,
			productModel,
			{
				Name:    "diagnostic_steps",
				Aliases: []string{"diagnostic_steps", "steps_taken"},
				Default: "Aucun étape de diagnostic fournie",
			},
			{
				Name:    "issue_summary",
				Aliases: []string{"issue_summary", "summary", "problem_description"},
				Default: "Aucun résumé de problème fourni",
			},
			{
				Name:    "photo_video_received",
				Aliases: []string{"photo_video_received"},
				Default: false,
			},
			{
				Name:    "priority",
				Aliases: []string{"priority"},
				Default: "normale",
			},
		},
	},
	ActionLogisticsSMS: {
		Action: ActionLogisticsSMS,
		Intent: domain.IntentLogistics,
		Fields: []Field{
			clientName,
			{
				Name:    "product",
				Aliases: []string{"product", "product_model", "model"},
				Default: notSpecified,
			},
			{
				Name:    "pickup_or_delivery",
				Aliases: []string{"pickup_or_delivery", "delivery_type"},
				Default: notSpecified,
			},
			{
				Name:    "instructions",
				Aliases: []string{"instructions", "special_instructions"},
				Default: "Aucune instruction fournie",
			},
		},
	},
	ActionProductSuggestion: {
		Action: ActionProductSuggestion,
		Intent: domain.IntentProductRequest,
		Fields: []Field{
			clientName,
			clientEmail,
			{
				Name: "product_description",
				Aliases: []string{
					"product_description",
					"product_details",
					"product_request",
					"description",
					"additional_details",
					"wrap_content",
				},
				Default: "Aucune description fournie",
			},
			{
				Name:    "product_name",
				Aliases: []string{"product_name", "product"},
				Default: notSpecified,
			},
			{
				Name:    "context",
				Aliases: []string{"context"},
				Default: "Aucun contexte fourni",
			},
		},
	},
}

// Lookup returns the schema for an action name.
func Lookup(action string) (Schema, bool) {
	s, ok := schemas[action]
	return s, ok
}
