package utils

import "github.com/gofiber/fiber/v2"

// Every JSON endpoint answers with the same envelope: a success flag plus
// either a data payload or an error message. Clients branch on the flag and
// never have to sniff the shape.
type successEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func Success(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(successEnvelope{Success: true, Data: data})
}

func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(errorEnvelope{Success: false, Error: message})
}
