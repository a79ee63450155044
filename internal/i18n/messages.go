// Package i18n holds the user-visible messages shown by the notifier.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Key identifies a user-visible message.
type Key string

// Message keys.
const (
	DeviceNotConnected     Key = "device_not_connected"
	ErrorOccurred          Key = "error_occurred"
	TimeOut                Key = "time_out"
	VerifyInputs           Key = "verify_inputs"
	FillRequiredFields     Key = "fill_required_fields"
	VerificationEmailSent  Key = "verification_email_sent"
	EmailSent              Key = "email_sent"
	EmailNotVerified       Key = "email_address_not_verified"
	EmailAlreadyVerified   Key = "email_already_verified"
	NotSignedIn            Key = "not_signed_in"
	NoResults              Key = "no_results"
	BookAdded              Key = "book_added"
	BookRemoved            Key = "book_removed"
	BookUpdated            Key = "book_updated"
	ProfileUpdated         Key = "profile_updated"
	SyncFailed             Key = "sync_failed"
	SaveFailed             Key = "save_failed"
	UploadFailed           Key = "upload_failed"
	DeleteFailed           Key = "delete_failed"
	InvalidCredentials     Key = "invalid_credentials"
	AccountAlreadyExists   Key = "account_already_exists"
	NotAllowed             Key = "not_allowed"
	BooksLoaded            Key = "books_loaded"
	AuthenticationComplete Key = "authentication_complete"
)

var supported = []language.Tag{language.English, language.French}

var matcher = language.NewMatcher(supported)

var catalog = map[language.Tag]map[Key]string{
	language.English: {
		DeviceNotConnected:     "Device not connected",
		ErrorOccurred:          "An error occurred",
		TimeOut:                "The request timed out",
		VerifyInputs:           "Please verify your inputs",
		FillRequiredFields:     "Please fill out all the required fields!",
		VerificationEmailSent:  "Verification email sent",
		EmailSent:              "Email sent",
		EmailNotVerified:       "Email address not verified",
		EmailAlreadyVerified:   "Email address already verified",
		NotSignedIn:            "Please sign in first",
		NoResults:              "No results",
		BookAdded:              "%s was added",
		BookRemoved:            "%s was removed",
		BookUpdated:            "%s was updated",
		ProfileUpdated:         "Profile updated",
		SyncFailed:             "Could not load the latest changes",
		SaveFailed:             "Your change could not be saved",
		UploadFailed:           "The picture could not be uploaded",
		DeleteFailed:           "The old picture could not be deleted",
		InvalidCredentials:     "Wrong email or password",
		AccountAlreadyExists:   "An account with this email already exists",
		NotAllowed:             "You are not allowed to do that",
		BooksLoaded:            "%d books",
		AuthenticationComplete: "Signed in",
	},
	language.French: {
		DeviceNotConnected:     "Appareil non connecté",
		ErrorOccurred:          "Une erreur est survenue",
		TimeOut:                "La requête a expiré",
		VerifyInputs:           "Veuillez vérifier vos saisies",
		FillRequiredFields:     "Veuillez remplir tous les champs obligatoires !",
		VerificationEmailSent:  "E-mail de vérification envoyé",
		EmailSent:              "E-mail envoyé",
		EmailNotVerified:       "Adresse e-mail non vérifiée",
		EmailAlreadyVerified:   "Adresse e-mail déjà vérifiée",
		NotSignedIn:            "Veuillez d'abord vous connecter",
		NoResults:              "Aucun résultat",
		BookAdded:              "%s a été ajouté",
		BookRemoved:            "%s a été retiré",
		BookUpdated:            "%s a été mis à jour",
		ProfileUpdated:         "Profil mis à jour",
		SyncFailed:             "Impossible de charger les dernières modifications",
		SaveFailed:             "Votre modification n'a pas pu être enregistrée",
		UploadFailed:           "L'image n'a pas pu être envoyée",
		DeleteFailed:           "L'ancienne image n'a pas pu être supprimée",
		InvalidCredentials:     "E-mail ou mot de passe incorrect",
		AccountAlreadyExists:   "Un compte existe déjà avec cet e-mail",
		NotAllowed:             "Vous n'êtes pas autorisé à faire cela",
		BooksLoaded:            "%d livres",
		AuthenticationComplete: "Connecté",
	},
}

func init() {
	for tag, messages := range catalog {
		for key, msg := range messages {
			// SetString only fails for malformed tags.
			_ = message.SetString(tag, string(key), msg)
		}
	}
}

// Printer renders message keys in one locale.
type Printer struct {
	tag language.Tag
	p   *message.Printer
}

// NewPrinter returns a printer for the best supported match of locale.
// Unknown or malformed locales fall back to English.
func NewPrinter(locale string) *Printer {
	tag := language.English
	if parsed, err := language.Parse(locale); err == nil {
		_, idx, _ := matcher.Match(parsed)
		tag = supported[idx]
	}
	return &Printer{tag: tag, p: message.NewPrinter(tag)}
}

// Language returns the tag messages are rendered in.
func (p *Printer) Language() language.Tag {
	return p.tag
}

// Sprintf renders key with args.
func (p *Printer) Sprintf(key Key, args ...any) string {
	return p.p.Sprintf(string(key), args...)
}
