package controller

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"mailflare/config"
	"mailflare/models"
	"mailflare/utils"
)

type MessageRequest struct {
	Subject string `json:"subject" validate:"required,max=255"`
	Body    string `json:"body" validate:"required"`
}

func messageScope(user *models.User) *gorm.DB {
	query := config.DB.Where("is_active = ?", true)
	if !user.IsManager {
		query = query.Where("user_id = ?", user.ID)
	}
	return query
}

func CreateMessage(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req MessageRequest
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

	message := models.Message{
		UserID:   user.ID,
		Subject:  req.Subject,
		Body:     req.Body,
		IsActive: true,
	}

	if err := config.DB.Create(&message).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create message",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(message)
}

func ListMessages(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var messages []models.Message
	if err := messageScope(user).Order("created_at DESC").Find(&messages).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch messages",
		})
	}

	return c.JSON(messages)
}

func GetMessage(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var message models.Message
	if err := messageScope(user).First(&message, c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Message not found",
		})
	}

	return c.JSON(message)
}

func UpdateMessage(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var message models.Message
	if err := config.DB.Where("user_id = ? AND is_active = ?", user.ID, true).
		First(&message, c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Message not found",
		})
	}

	var req MessageRequest
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

	message.Subject = req.Subject
	message.Body = req.Body

	if err := config.DB.Save(&message).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update message",
		})
	}

	return c.JSON(message)
}

func DeleteMessage(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var message models.Message
	if err := config.DB.Where("user_id = ? AND is_active = ?", user.ID, true).
		First(&message, c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Message not found",
		})
	}

	if err := config.DB.Model(&message).Update("is_active", false).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete message",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Message deleted successfully",
	})
}
