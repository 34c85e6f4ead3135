package controller

import (
	"net/http"

	"airdetect/internal/modules/airquality/repository"
)

const maxHistoryLimit = 1000

type AirQualityController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type airQualityControllerImpl struct {
	repository repository.HistoryRepository
}

func NewAirQualityController(repository repository.HistoryRepository) AirQualityController {
	return &airQualityControllerImpl{repository: repository}
}

func (c *airQualityControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/history", c.handleHistory)
	mux.HandleFunc("GET /api/latest", c.handleLatest)
}
