package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"docmerge/internal/merge"
	"docmerge/internal/resolve"
	"docmerge/internal/service"
)

// Pinger reports whether the record store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Handlers only translate HTTP to service calls; the merge engine runs in the service.
func RegisterRoutes(app *fiber.App, store Pinger, svc service.RecordService) {
	app.Get("/health", HealthCheck(store))
	app.Get("/healthz", LivenessProbe())

	entities := app.Group("/entities/:entity")
	entities.Get("/", ListRecords(svc))
	entities.Post("/", CreateRecord(svc))
	entities.Get("/:id", GetRecord(svc))
	entities.Put("/:id", UpdateRecord(svc))
	entities.Delete("/:id", DeleteRecord(svc))
	entities.Delete("/:id/attachments", DeleteAttachment(svc))
}

// HealthCheck checks record store connectivity only.
//
// @Summary Readiness probe
// @Tags health
// @Success 200 {object} map[string]string
// @Failure 503 {object} errorPayload
// @Router /health [get]
func HealthCheck(store Pinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe is a simple liveness probe.
//
// @Summary Liveness probe
// @Tags health
// @Success 200
// @Router /healthz [get]
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// ListRecords lists records of one entity type with limit & offset.
//
// @Summary List records
// @Tags records
// @Produce json
// @Param entity path string true "entity type"
// @Param limit query int false "page size" default(10)
// @Param offset query int false "page offset" default(0)
// @Success 200 {object} service.RecordListResult
// @Failure 400,404,500 {object} errorPayload
// @Router /entities/{entity} [get]
func ListRecords(svc service.RecordService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := svc.List(c.UserContext(), c.Params("entity"), limit, offset)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

// CreateRecord builds a record from a multipart or urlencoded form.
//
// @Summary Create a record
// @Tags records
// @Accept multipart/form-data,application/x-www-form-urlencoded
// @Produce json
// @Param entity path string true "entity type"
// @Success 201 {object} model.Record
// @Failure 400,404,422,500 {object} errorPayload
// @Router /entities/{entity} [post]
func CreateRecord(svc service.RecordService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sub, err := readSubmission(c)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_FORM", "cannot parse form")
		}
		rec, err := svc.Create(c.UserContext(), c.Params("entity"), sub)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(rec)
	}
}

// GetRecord returns a record by ID.
//
// @Summary Get a record
// @Tags records
// @Produce json
// @Param entity path string true "entity type"
// @Param id path string true "record id"
// @Success 200 {object} model.Record
// @Failure 400,404,500 {object} errorPayload
// @Router /entities/{entity}/{id} [get]
func GetRecord(svc service.RecordService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := recordID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		rec, err := svc.Get(c.UserContext(), c.Params("entity"), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(rec)
	}
}

// UpdateRecord merges a form into an existing record. mode=patch keeps
// collections the form does not mention.
//
// @Summary Update a record
// @Tags records
// @Accept multipart/form-data,application/x-www-form-urlencoded
// @Produce json
// @Param entity path string true "entity type"
// @Param id path string true "record id"
// @Param mode query string false "replace (default) or patch"
// @Success 200 {object} model.Record
// @Failure 400,404,422,500 {object} errorPayload
// @Router /entities/{entity}/{id} [put]
func UpdateRecord(svc service.RecordService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := recordID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		mode, err := merge.ParseMode(c.Query("mode"))
		if err != nil {
			return writeServiceError(c, err)
		}
		sub, err := readSubmission(c)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_FORM", "cannot parse form")
		}
		rec, err := svc.Update(c.UserContext(), c.Params("entity"), id, sub, mode)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(rec)
	}
}

// DeleteRecord removes a record and its stored files.
//
// @Summary Delete a record
// @Tags records
// @Param entity path string true "entity type"
// @Param id path string true "record id"
// @Success 204
// @Failure 400,404,500 {object} errorPayload
// @Router /entities/{entity}/{id} [delete]
func DeleteRecord(svc service.RecordService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := recordID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		if err := svc.Delete(c.UserContext(), c.Params("entity"), id); err != nil {
			return writeServiceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// DeleteAttachment removes one stored file, addressed by exactly one of
// field, suffix, or group+main+file.
//
// @Summary Delete an attachment
// @Tags records
// @Produce json
// @Param entity path string true "entity type"
// @Param id path string true "record id"
// @Param field query string false "single file field"
// @Param suffix query string false "trailing part of the stored path"
// @Param group query string false "group type of an indexed collection"
// @Param main query int false "sub-document index"
// @Param file query int false "file index within the sub-document"
// @Success 200 {object} model.Record
// @Failure 400,404,500 {object} errorPayload
// @Router /entities/{entity}/{id}/attachments [delete]
func DeleteAttachment(svc service.RecordService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := recordID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		ref, ok := reference(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_REFERENCE", "provide exactly one of field, suffix or group+main+file")
		}
		rec, err := svc.DeleteAttachment(c.UserContext(), c.Params("entity"), id, ref)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(rec)
	}
}

func recordID(c *fiber.Ctx) (string, bool) {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

func reference(c *fiber.Ctx) (resolve.Reference, bool) {
	field, suffix, group := c.Query("field"), c.Query("suffix"), c.Query("group")

	given := 0
	for _, v := range []string{field, suffix, group} {
		if v != "" {
			given++
		}
	}
	if given != 1 {
		return nil, false
	}

	switch {
	case field != "":
		return resolve.FieldRef{Field: field}, true
	case suffix != "":
		return resolve.SuffixRef{Suffix: suffix}, true
	}
	mainIdx, err := strconv.Atoi(c.Query("main"))
	if err != nil || mainIdx < 0 {
		return nil, false
	}
	fileIdx, err := strconv.Atoi(c.Query("file"))
	if err != nil || fileIdx < 0 {
		return nil, false
	}
	return resolve.CompositeRef{GroupType: group, MainIndex: mainIdx, FileIndex: fileIdx}, true
}
