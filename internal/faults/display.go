package faults

import (
	"golang.org/x/text/language"
)

// Display is the user-facing rendering of a category.
type Display struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Action      string `json:"action"`
}

var displayLocales = []language.Tag{
	language.English,
	language.Indonesian,
}

var displayMatcher = language.NewMatcher(displayLocales)

var catalog = map[Category]Display{
	CreditsInsufficient: {
		Title:       "Out of credits",
		Description: "The provider account has no credits left for this generation.",
		Action:      "Top up the provider account and retry.",
	},
	QuotaExceeded: {
		Title:       "Quota exceeded",
		Description: "The generation quota for this account has been used up.",
		Action:      "Wait for the quota window to reset or raise the limit.",
	},
	DimensionsInvalid: {
		Title:       "Invalid dimensions",
		Description: "The requested output dimensions are not accepted by the provider.",
		Action:      "Pick a supported width and height and retry.",
	},
	DimensionsOutOfRange: {
		Title:       "Dimensions out of range",
		Description: "Width and height must be between 1024 and 4096 pixels.",
		Action:      "Adjust the output size and retry.",
	},
	PromptEmpty: {
		Title:       "Empty prompt",
		Description: "No prompt text was available when the job was submitted.",
		Action:      "Provide a prompt or wait for prompt generation to finish.",
	},
	PromptGenerationFailed: {
		Title:       "Prompt generation failed",
		Description: "The prompt for this job could not be generated.",
		Action:      "Retry, or write a prompt manually.",
	},
	ImageMissing: {
		Title:       "Image missing",
		Description: "A required input image could not be found in storage.",
		Action:      "Re-upload the image and retry.",
	},
	ImagePathInvalid: {
		Title:       "Invalid image path",
		Description: "An input image path could not be resolved or signed.",
		Action:      "Re-upload the image and retry.",
	},
	RequestMalformed: {
		Title:       "Malformed request",
		Description: "The provider rejected the request as malformed.",
		Action:      "Retry; if it persists, report the job id.",
	},
	NetworkError: {
		Title:       "Network error",
		Description: "The provider could not be reached.",
		Action:      "Retry in a moment.",
	},
	Timeout: {
		Title:       "Timed out",
		Description: "The job did not make progress in time and was stopped.",
		Action:      "Retry the generation.",
	},
	RateLimited: {
		Title:       "Rate limited",
		Description: "The provider is throttling requests.",
		Action:      "Wait a moment and retry.",
	},
	APIBadRequest: {
		Title:       "Provider rejected request",
		Description: "The provider returned a bad-request error.",
		Action:      "Retry; if it persists, report the job id.",
	},
	APIUnauthorized: {
		Title:       "Provider authentication failed",
		Description: "The provider rejected the service credentials.",
		Action:      "Check the configured API key.",
	},
	APIForbidden: {
		Title:       "Provider access denied",
		Description: "The provider denied access to this operation.",
		Action:      "Check the account permissions.",
	},
	APIServerError: {
		Title:       "Provider error",
		Description: "The provider had an internal error.",
		Action:      "Retry in a moment.",
	},
	ProviderIDMissing: {
		Title:       "Provider response incomplete",
		Description: "The provider accepted the job but returned no request id.",
		Action:      "Retry the generation.",
	},
	DatabaseError: {
		Title:       "Storage error",
		Description: "The job could not be persisted.",
		Action:      "Retry in a moment.",
	},
	Unknown: {
		Title:       "Something went wrong",
		Description: "The generation failed for an unexpected reason.",
		Action:      "Retry; if it persists, report the job id.",
	},
}

var catalogID = map[Category]Display{
	Timeout: {
		Title:       "Waktu habis",
		Description: "Pekerjaan tidak selesai tepat waktu dan dihentikan.",
		Action:      "Coba ulangi pembuatan gambar.",
	},
	NetworkError: {
		Title:       "Gangguan jaringan",
		Description: "Penyedia layanan tidak dapat dihubungi.",
		Action:      "Coba lagi sebentar lagi.",
	},
	RateLimited: {
		Title:       "Terlalu banyak permintaan",
		Description: "Penyedia layanan sedang membatasi permintaan.",
		Action:      "Tunggu sebentar lalu coba lagi.",
	},
	Unknown: {
		Title:       "Terjadi kesalahan",
		Description: "Pembuatan gambar gagal karena alasan yang tidak terduga.",
		Action:      "Coba lagi; jika berlanjut, laporkan id pekerjaan.",
	},
}

// Describe returns the display triple for a category in the closest supported
// locale. Unknown categories fall back to the generic retry message.
func Describe(cat Category, locale string) Display {
	_, idx := language.MatchStrings(displayMatcher, locale)
	if displayLocales[idx] == language.Indonesian {
		if d, ok := catalogID[cat]; ok {
			return d
		}
		// Untranslated categories fall through to English.
	}
	if d, ok := catalog[cat]; ok {
		return d
	}
	return catalog[Unknown]
}
