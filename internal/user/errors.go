package user

import (
	"errors"
	"fmt"

	"github.com/atmx/futurebureau/internal/model"
)

func isNotFound(err error) bool { return errors.Is(err, model.ErrNotFound) }

// permissionIfMissing turns a missing caller record into a permission
// failure: unregistered principals may not act.
func permissionIfMissing(err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: caller is not registered: %v", model.ErrPermission, err)
	}
	return err
}
