package account

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/presence/core"
)

// NowFunc is mocked in tests.
var NowFunc = time.Now

var (
	emailFmtTag   = "emailfmt"
	emailFmtText  = "enter a valid email address"
	emailFmtRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

	// enrollment years accepted, relative to the current year
	enrollYearMinDelta = 6
	enrollYearMaxDelta = 1
	enrollYearTag      = "enrollyear"
	enrollYearText     = fmt.Sprintf("enrollment year must be within %d years before and %d year after the current year",
		enrollYearMinDelta, enrollYearMaxDelta)

	// password policy
	pwdMinLen     = 6
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("temporary password must contain at least %d characters", pwdMinLen)

	// password recommendations (warnings only)
	pwdMaxSim         = .7
	pwdComplexityWarn = "temporary password should contain both letters and digits"
	pwdAttrSimWarn    = "temporary password is too similar to the name or email"

	photoField = "photo"
	photoText  = "photo must be a JPEG, PNG, GIF or WebP image"
)

// InitValidators registers the account validation tags. Call after core.InitValidators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(emailFmtTag, emailFmtValidation)
	core.RegisterCustomTranslation(validate, translator, emailFmtTag, emailFmtText)

	_ = validate.RegisterValidation(enrollYearTag, enrollYearValidation)
	core.RegisterCustomTranslation(validate, translator, enrollYearTag, enrollYearText)

	_ = validate.RegisterValidation(pwdMinLenTag, pwdMinLenValidation)
	core.RegisterCustomTranslation(validate, translator, pwdMinLenTag, pwdMinLenText)
}

// Custom Validators

func emailFmtValidation(fl validator.FieldLevel) bool {
	return emailFmtRegex.MatchString(fl.Field().String())
}

func pwdMinLenValidation(fl validator.FieldLevel) bool {
	return len([]rune(fl.Field().String())) >= pwdMinLen
}

// enrollYearValidation checks the year is within [currentYear-6, currentYear+1]
func enrollYearValidation(fl validator.FieldLevel) bool {
	year := int(fl.Field().Int())
	current := NowFunc().Year()
	return year >= current-enrollYearMinDelta && year <= current+enrollYearMaxDelta
}

// passwordWarnings applies the recommended password policy:
// - letters and digits
// - no name/email similarity
func passwordWarnings(pwd, name, email string) []string {
	var (
		warnings         []string
		hasDig, hasAlpha bool
	)
	for _, char := range pwd {
		if unicode.IsDigit(char) {
			hasDig = true
		} else if unicode.IsLetter(char) {
			hasAlpha = true
		}
	}
	if !(hasDig && hasAlpha) {
		warnings = append(warnings, pwdComplexityWarn)
	}

	getRatio := func(pass, usrAttr string) float64 {
		if usrAttr == "" {
			return 0
		}
		return difflib.NewMatcher(strings.Split(pass, ""), strings.Split(usrAttr, "")).QuickRatio()
	}
	lpwd := strings.ToLower(pwd)
	localPart := strings.SplitN(email, "@", 2)[0]
	if getRatio(lpwd, strings.ToLower(name)) >= pwdMaxSim || getRatio(lpwd, localPart) >= pwdMaxSim {
		warnings = append(warnings, pwdAttrSimWarn)
	}
	return warnings
}
