package handler

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"users-api/internal/hub"
	"users-api/internal/middleware"
	"users-api/internal/model"
	"users-api/internal/storage"
	"users-api/internal/store"
	"users-api/internal/validation"
)

const imageDir = "images"

type UserHandler struct {
	Users     store.Users
	Files     storage.Storage
	Validator *validation.Validator
	Events    *hub.Hub
	Log       *zap.Logger
}

func (h *UserHandler) resource(u model.User) gin.H {
	var imageURL *string
	if u.Image != nil {
		url := h.Files.URL(*u.Image)
		imageURL = &url
	}
	return gin.H{
		"id":         u.ID,
		"name":       u.Name,
		"address":    u.Address,
		"image":      u.Image,
		"image_url":  imageURL,
		"created_at": u.CreatedAt,
		"updated_at": u.UpdatedAt,
	}
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "User not found"})
}

func (h *UserHandler) internalError(c *gin.Context, msg string, err error) {
	h.Log.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Internal server error"})
}

// formImage returns the uploaded "image" file, or nil when none was sent.
func formImage(c *gin.Context) *multipart.FileHeader {
	fh, err := c.FormFile("image")
	if err != nil {
		return nil
	}
	return fh
}

func (h *UserHandler) storeImage(ctx context.Context, img *validation.Image) (string, error) {
	name, err := storage.RandomName(imageDir, "user_", img.Ext)
	if err != nil {
		return "", err
	}
	f, err := img.Header.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := h.Files.Put(ctx, name, f, img.Header.Size, img.ContentType); err != nil {
		return "", err
	}
	return name, nil
}

// removeImage deletes a stored file. Missing files are not an error; other
// failures are logged since the record change already happened.
func (h *UserHandler) removeImage(ctx context.Context, name string) {
	if err := h.Files.Delete(ctx, name); err != nil && !errors.Is(err, storage.ErrNotExist) {
		h.Log.Warn("failed to delete stored image", zap.String("image", name), zap.Error(err))
	}
}

// actor names the token subject behind a write, empty when auth is off.
func actor(c *gin.Context) zap.Field {
	subject, _ := middleware.SubjectFromContext(c)
	return zap.String("subject", subject)
}

func (h *UserHandler) publish(event string, u model.User) {
	if err := h.Events.Publish(hub.UsersTopic, event, h.resource(u)); err != nil {
		h.Log.Warn("failed to publish user event", zap.String("event", event), zap.Error(err))
	}
}

// bindUser decodes and validates the request body and optional image.
// err is set only for bodies that cannot be decoded at all.
func (h *UserHandler) bindUser(c *gin.Context) (validation.UserInput, *validation.Image, validation.Errors, error) {
	var in validation.UserInput
	bindErrs, err := validation.BindErrors(c.ShouldBind(&in))
	if err != nil {
		return in, nil, nil, err
	}
	img, errs := h.Validator.User(&in, formImage(c))
	errs = errs.Merge(bindErrs)
	if errs != nil {
		return in, nil, errs, nil
	}
	return in, img, nil, nil
}

func (h *UserHandler) Index(c *gin.Context) {
	users, err := h.Users.List(c.Request.Context(), c.Query("search"))
	if err != nil {
		h.internalError(c, "failed to list users", err)
		return
	}

	data := make([]gin.H, 0, len(users))
	for _, u := range users {
		data = append(data, h.resource(u))
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"data":    data,
		"message": "Users fetched successfully",
	})
}

func (h *UserHandler) Store(c *gin.Context) {
	ctx := c.Request.Context()

	in, img, errs, err := h.bindUser(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid request"})
		return
	}
	if errs != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"status": "error", "message": errs})
		return
	}

	u := model.User{Name: in.Name, Address: in.Address}
	if img != nil {
		name, err := h.storeImage(ctx, img)
		if err != nil {
			h.internalError(c, "failed to store image", err)
			return
		}
		u.Image = &name
	}

	if err := h.Users.Create(ctx, &u); err != nil {
		if u.Image != nil {
			h.removeImage(ctx, *u.Image)
		}
		h.internalError(c, "failed to create user", err)
		return
	}

	h.Log.Info("user created", zap.String("id", u.ID), actor(c))
	h.publish(hub.EventUserCreated, u)
	c.JSON(http.StatusCreated, gin.H{
		"status":  "success",
		"data":    h.resource(u),
		"message": "User created successfully",
	})
}

func (h *UserHandler) Show(c *gin.Context) {
	u, err := h.Users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(c)
			return
		}
		h.internalError(c, "failed to get user", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"data":    h.resource(u),
		"message": "User fetched successfully",
	})
}

// Update re-validates every field, then replaces the image only when a new
// file was uploaded. Unexpected failures expose the error text.
func (h *UserHandler) Update(c *gin.Context) {
	ctx := c.Request.Context()

	in, img, errs, err := h.bindUser(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "message": "Invalid request"})
		return
	}
	if errs != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": true, "message": errs.All()})
		return
	}

	u, err := h.Users.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(c)
			return
		}
		h.rawError(c, err)
		return
	}

	oldImage := u.Image
	u.Name = in.Name
	u.Address = in.Address

	var newImage string
	if img != nil {
		newImage, err = h.storeImage(ctx, img)
		if err != nil {
			h.rawError(c, err)
			return
		}
		u.Image = &newImage
	}

	if err := h.Users.Update(ctx, &u); err != nil {
		if newImage != "" {
			h.removeImage(ctx, newImage)
		}
		if errors.Is(err, store.ErrNotFound) {
			notFound(c)
			return
		}
		h.rawError(c, err)
		return
	}

	if newImage != "" && oldImage != nil && *oldImage != newImage {
		h.removeImage(ctx, *oldImage)
	}

	h.Log.Info("user updated", zap.String("id", u.ID), zap.Bool("image_replaced", newImage != ""), actor(c))
	h.publish(hub.EventUserUpdated, u)
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "User updated successfully!",
		"updated_data": h.resource(u),
	})
}

func (h *UserHandler) rawError(c *gin.Context, err error) {
	h.Log.Error("failed to update user", zap.String("id", c.Param("id")), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": true, "message": err.Error()})
}

func (h *UserHandler) Destroy(c *gin.Context) {
	ctx := c.Request.Context()

	u, err := h.Users.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(c)
			return
		}
		h.internalError(c, "failed to get user", err)
		return
	}

	if err := h.Users.Delete(ctx, u.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(c)
			return
		}
		h.internalError(c, "failed to delete user", err)
		return
	}
	if u.Image != nil {
		h.removeImage(ctx, *u.Image)
	}

	h.Log.Info("user deleted", zap.String("id", u.ID), actor(c))
	h.publish(hub.EventUserDeleted, u)
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "User deleted successfully",
	})
}
