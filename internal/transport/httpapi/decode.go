package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

var errTrailingData = errors.New("unexpected data after JSON value")

// decodeBody читает ровно один JSON-объект из тела. Пустое тело — пустой объект.
func decodeBody(c echo.Context) (map[string]any, error) {
	dec := json.NewDecoder(c.Request().Body)

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, decodeError(err)
	}
	// после значения допускаются только пробелы
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errTrailingData
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			err = errTrailingData
		}
		return nil, decodeError(err)
	}
	if body == nil {
		// тело "null"
		return nil, nil
	}
	return body, nil
}

func decodeError(err error) error {
	if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
		return echo.ErrStatusRequestEntityTooLarge
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return echo.NewHTTPError(http.StatusBadRequest, errInvalidBody.Error()).SetInternal(err)
	}
	return echo.NewHTTPError(http.StatusBadRequest, "JSON inválido").SetInternal(err)
}
