package restapi

import "errors"

var (
	errBadBoolParam      = errors.New("restapi: path parameter must be true or false")
	errBadQuotaParam     = errors.New("restapi: path parameter must be a non-negative integer")
	errNoKeyholeTemplate = errors.New("restapi: no keyhole_template configured")
)
