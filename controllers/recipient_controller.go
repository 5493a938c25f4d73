package controller

import (
	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"mailflare/config"
	"mailflare/models"
	"mailflare/utils"
)

type RecipientRequest struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"required,max=255"`
	Comment  string `json:"comment" validate:"omitempty,max=2000"`
}

// reviveRecipient reactivates a tombstoned recipient, replacing its
// details with the newly submitted ones. Old attempt rows keep pointing at
// the same recipient ID.
func reviveRecipient(r *models.Recipient, req RecipientRequest) {
	r.FullName = req.FullName
	r.Comment = req.Comment
	r.IsActive = true
}

// recipientScope narrows queries to active recipients the user may see.
// Managers see everyone's recipients, everyone else only their own.
func recipientScope(user *models.User) *gorm.DB {
	query := config.DB.Where("is_active = ?", true)
	if !user.IsManager {
		query = query.Where("user_id = ?", user.ID)
	}
	return query
}

func CreateRecipient(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req RecipientRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := checkmail.ValidateFormat(req.Email); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid email address",
		})
	}

	// One row per (email, owner). The unique index covers tombstoned rows
	// too, so a soft-deleted recipient with this email is revived in place
	// rather than inserted again.
	var existing models.Recipient
	if err := config.DB.Where("email = ? AND user_id = ?", req.Email, user.ID).
		First(&existing).Error; err == nil {
		if existing.IsActive {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Recipient with this email already exists",
			})
		}

		reviveRecipient(&existing, req)
		if err := config.DB.Save(&existing).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to create recipient",
			})
		}
		return c.Status(fiber.StatusCreated).JSON(existing)
	}

	recipient := models.Recipient{
		UserID:   user.ID,
		Email:    req.Email,
		FullName: req.FullName,
		Comment:  req.Comment,
		IsActive: true,
	}

	if err := config.DB.Create(&recipient).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create recipient",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(recipient)
}

func ListRecipients(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var recipients []models.Recipient
	if err := recipientScope(user).Order("full_name").Find(&recipients).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch recipients",
		})
	}

	return c.JSON(recipients)
}

func GetRecipient(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var recipient models.Recipient
	if err := recipientScope(user).First(&recipient, c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Recipient not found",
		})
	}

	return c.JSON(recipient)
}

func UpdateRecipient(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var recipient models.Recipient
	if err := config.DB.Where("user_id = ? AND is_active = ?", user.ID, true).
		First(&recipient, c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Recipient not found",
		})
	}

	var req RecipientRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := checkmail.ValidateFormat(req.Email); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid email address",
		})
	}

	recipient.Email = req.Email
	recipient.FullName = req.FullName
	recipient.Comment = req.Comment

	if err := config.DB.Save(&recipient).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update recipient",
		})
	}

	return c.JSON(recipient)
}

// DeleteRecipient tombstones the recipient. The row stays so attempt
// history keeps pointing at it; dispatch and listing queries filter it out.
func DeleteRecipient(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var recipient models.Recipient
	if err := config.DB.Where("user_id = ? AND is_active = ?", user.ID, true).
		First(&recipient, c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Recipient not found",
		})
	}

	if err := config.DB.Model(&recipient).Update("is_active", false).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete recipient",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Recipient deleted successfully",
	})
}
