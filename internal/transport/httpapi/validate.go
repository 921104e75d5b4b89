package httpapi

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxNameLength    = 50
	MaxMessageLength = 1500
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

var errInvalidBody = errors.New("Body inválido (se esperaba JSON)")

// ChatInput — проверенный запрос к чату.
type ChatInput struct {
	ID      string
	Name    string
	Message string
}

// ValidateChat проверяет тело {id, nombre, mensaje}. Строки обрезаются по краям,
// длины считаются в символах.
func ValidateChat(body map[string]any) (ChatInput, error) {
	if body == nil {
		return ChatInput{}, errInvalidBody
	}
	id, err := validateID(body)
	if err != nil {
		return ChatInput{}, err
	}

	name, ok := nonEmptyString(body["nombre"])
	if !ok {
		return ChatInput{}, errors.New("Falta o es inválido: nombre")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return ChatInput{}, fmt.Errorf("nombre demasiado largo (máximo %d)", MaxNameLength)
	}

	message, ok := nonEmptyString(body["mensaje"])
	if !ok {
		return ChatInput{}, errors.New("Falta o es inválido: mensaje")
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return ChatInput{}, fmt.Errorf("mensaje demasiado largo (máximo %d)", MaxMessageLength)
	}

	return ChatInput{ID: id, Name: name, Message: message}, nil
}

// ValidateDelete проверяет тело {id}.
func ValidateDelete(body map[string]any) (string, error) {
	if body == nil {
		return "", errInvalidBody
	}
	return validateID(body)
}

func validateID(body map[string]any) (string, error) {
	id, ok := nonEmptyString(body["id"])
	if !ok {
		return "", errors.New("Falta o es inválido: id")
	}
	if !idPattern.MatchString(id) {
		return "", errors.New("id inválido (solo letras, números, '_' y '-' y máximo 64)")
	}
	return id, nil
}

func nonEmptyString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
