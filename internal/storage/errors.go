package storage

import (
	"database/sql"
	"errors"

	"castbot/internal/model"
)

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return model.StoreFailure("storage."+op, err)
}

func rowErr(op, what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return model.NotFound("storage."+op, what)
	}
	return storeErr(op, err)
}
