// internal/api/error_codes.go
package api

// API error code constants
const (
	// Generic errors
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"

	// Project errors
	ErrorProjectNotFound     = "PROJECT_NOT_FOUND"
	ErrorProjectCreateFailed = "PROJECT_CREATE_FAILED"
	ErrorProjectInvalid      = "PROJECT_INVALID"

	// Story and scene errors
	ErrorStoryNotFound      = "STORY_NOT_FOUND"
	ErrorSceneNotFound      = "SCENE_NOT_FOUND"
	ErrorSceneInvalid       = "SCENE_INVALID"
	ErrorCharacterNotFound  = "CHARACTER_NOT_FOUND"
	ErrorPreconditionFailed = "PRECONDITION_FAILED"

	// Document errors
	ErrorDocParseFailed = "DOC_PARSE_FAILED"
	ErrorDocEmpty       = "DOC_EMPTY"

	// Generation errors
	ErrorGenerationFailed = "GENERATION_FAILED"
	ErrorGenerationBusy   = "GENERATION_BUSY"
	ErrorTaskNotFound     = "TASK_NOT_FOUND"
	ErrorPlanShapeInvalid = "PLAN_SHAPE_INVALID"
	ErrorTemplateNotFound = "TEMPLATE_NOT_FOUND"
	ErrorTemplateInvalid  = "TEMPLATE_INVALID"

	// LLM errors
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"
	ErrorConnectionFailed      = "CONNECTION_FAILED"

	// Export errors
	ErrorExportFailed        = "EXPORT_FAILED"
	ErrorExportFormatInvalid = "EXPORT_FORMAT_INVALID"
	ErrorExportDataEmpty     = "EXPORT_DATA_EMPTY"

	// Configuration health
	ErrorConfigUnhealthy    = "CONFIG_UNHEALTHY"
	ErrorConfigNotLoaded    = "CONFIG_NOT_LOADED"
	ErrorLLMProviderMissing = "LLM_PROVIDER_MISSING"
	ErrorAPIKeyMissing      = "API_KEY_MISSING"
)
