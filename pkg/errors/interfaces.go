// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

// UserVisibleError is implemented by errors whose message can be shown to a
// CLI user as-is.
type UserVisibleError interface {
	error

	// IsUserVisible returns true if this error should be shown to users.
	IsUserVisible() bool

	// UserMessage returns a user-friendly error message.
	UserMessage() string

	// Suggestion returns actionable guidance, or "".
	Suggestion() string
}

// UserMessage returns the friendly message and suggestion for err when it
// implements UserVisibleError, otherwise err.Error() and "".
func UserMessage(err error) (string, string) {
	var ve *ValidationError
	if As(err, &ve) {
		return ve.Error(), ve.Suggestion
	}
	var uve UserVisibleError
	if As(err, &uve) && uve.IsUserVisible() {
		return uve.UserMessage(), uve.Suggestion()
	}
	return err.Error(), ""
}
