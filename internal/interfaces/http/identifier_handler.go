package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/n1ngu/sii/internal/application/dto"
	"github.com/n1ngu/sii/internal/application/nif"
	"github.com/n1ngu/sii/internal/infrastructure/aeat"
)

// identifierChecker lo que el handler necesita del cliente VNif. Lo implementa *nif.Client.
type identifierChecker interface {
	Validate(ctx context.Context, id nif.Identifier) (nif.Verdict, error)
	ValidateMany(ctx context.Context, ids []nif.Identifier) ([]nif.Verdict, error)
	Invalid(ctx context.Context, id nif.Identifier) (*nif.Identifier, error)
	InvalidMany(ctx context.Context, ids []nif.Identifier) ([]nif.Verdict, error)
}

// IdentifierHandler validación de NIF contra el censo de la AEAT (protegido).
type IdentifierHandler struct {
	client identifierChecker
	log    zerolog.Logger
}

// NewIdentifierHandler construye el handler.
func NewIdentifierHandler(client identifierChecker, log zerolog.Logger) *IdentifierHandler {
	return &IdentifierHandler{client: client, log: log}
}

// InvalidResponse identificadores que la AEAT no reconoce.
type InvalidResponse struct {
	Invalid []dto.IdentifierRequest `json:"invalid"`
}

// parseIdentifiers acepta un objeto (modo individual) o un array (modo lote).
func parseIdentifiers(body []byte) (single *dto.IdentifierRequest, bulk []dto.IdentifierRequest, err error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		err = json.Unmarshal(body, &bulk)
		return nil, bulk, err
	}
	single = &dto.IdentifierRequest{}
	if err = json.Unmarshal(body, single); err != nil {
		return nil, nil, err
	}
	return single, nil, nil
}

// Validate veredicto por identificador.
// POST /api/sii/identifiers/validate
func (h *IdentifierHandler) Validate(c *fiber.Ctx) error {
	single, bulk, err := parseIdentifiers(c.Body())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "se espera un objeto o un array de {nif, name}"})
	}
	if single != nil {
		v, err := h.client.Validate(c.UserContext(), single.ToIdentifier())
		if err != nil {
			return h.remoteError(c, err)
		}
		return c.JSON(dto.NewVerdictResponses([]nif.Verdict{v})[0])
	}
	verdicts, err := h.client.ValidateMany(c.UserContext(), dto.ToIdentifiers(bulk))
	if err != nil {
		return h.remoteError(c, err)
	}
	return c.JSON(dto.NewVerdictResponses(verdicts))
}

// Invalid identificadores no reconocidos. En modo individual devuelve la
// entrada tal cual llegó; en modo lote, la forma normalizada.
// POST /api/sii/identifiers/invalid
func (h *IdentifierHandler) Invalid(c *fiber.Ctx) error {
	single, bulk, err := parseIdentifiers(c.Body())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "se espera un objeto o un array de {nif, name}"})
	}
	resp := InvalidResponse{Invalid: []dto.IdentifierRequest{}}
	if single != nil {
		id, err := h.client.Invalid(c.UserContext(), single.ToIdentifier())
		if err != nil {
			return h.remoteError(c, err)
		}
		if id != nil {
			resp.Invalid = append(resp.Invalid, dto.IdentifierRequest{NIF: id.NIF, Name: id.Name})
		}
		return c.JSON(resp)
	}
	verdicts, err := h.client.InvalidMany(c.UserContext(), dto.ToIdentifiers(bulk))
	if err != nil {
		return h.remoteError(c, err)
	}
	for _, v := range verdicts {
		resp.Invalid = append(resp.Invalid, dto.IdentifierRequest{NIF: v.NIF, Name: v.Name})
	}
	return c.JSON(resp)
}

// remoteError 502 con el detalle de la AEAT sin traducir.
func (h *IdentifierHandler) remoteError(c *fiber.Ctx, err error) error {
	h.log.Warn().Err(err).Msg("fallo en la validación de NIF")
	code := "INTERNAL"
	status := fiber.StatusInternalServerError
	var fault *aeat.RemoteFault
	if errors.As(err, &fault) {
		code, status = "REMOTE_FAULT", fiber.StatusBadGateway
	}
	return c.Status(status).JSON(dto.ErrorResponse{Code: code, Message: err.Error()})
}
