package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"unifarm-app/config"
	"unifarm-app/internal/pkg/generr"
	"unifarm-app/internal/pkg/util"
)

const timeout = 60

// ValidateSign guards the internal endpoints (manual tick and friends).
// Requests carry a timestamp "t" and a signature "s" over the form computed
// with the shared server key.
func ValidateSign(c *gin.Context) {
	signCode := c.Request.FormValue("s")
	if signCode == "" {
		c.JSON(http.StatusBadRequest, generr.SignMiss)
		c.Abort()
		return
	}

	timeStamp := c.Request.FormValue("t")
	tUnix, err := strconv.ParseInt(timeStamp, 10, 64)
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "parse timestamp"))
		c.JSON(http.StatusBadRequest, generr.TimestampErr)
		c.Abort()
		return
	}

	if time.Now().Unix()-tUnix > timeout {
		c.JSON(http.StatusBadRequest, generr.TimestampOut)
		c.Abort()
		return
	}

	if err = c.Request.ParseForm(); err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "parse form"))
		c.JSON(http.StatusInternalServerError, generr.ServerError)
		c.Abort()
		return
	}

	signStr := util.GenSignCode(c.Request.Form, config.Server.SignKey)
	if signStr != signCode {
		log.Infof("sign not match, signStr: %s, signCode: %s", signStr, signCode)
		c.JSON(http.StatusBadRequest, generr.SignNotMatch)
		c.Abort()
		return
	}
	c.Next()
}
