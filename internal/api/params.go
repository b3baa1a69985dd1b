package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

func parseVersionParam(c *gin.Context) (int, error) {
	return strconv.Atoi(c.Param("version"))
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
