package parser

// ParseKV parses a FortiGate body of space separated key=value pairs.
// Values may be double quoted, in which case spaces are allowed and a
// backslash escapes the following character. Scanning stops at the first
// token that is not followed by '='; pairs read so far are kept.
func ParseKV(body string) map[string]string {
	out := make(map[string]string)
	i, n := 0, len(body)

	for i < n {
		for i < n && body[i] == ' ' {
			i++
		}
		if i >= n {
			break
		}

		keyStart := i
		for i < n && body[i] != '=' && body[i] != ' ' {
			i++
		}
		key := body[keyStart:i]
		if key == "" || i >= n || body[i] != '=' {
			break
		}
		i++

		var value string
		if i < n && body[i] == '"' {
			i++
			buf := make([]byte, 0, 32)
			for i < n {
				ch := body[i]
				if ch == '\\' && i+1 < n {
					buf = append(buf, body[i+1])
					i += 2
					continue
				}
				i++
				if ch == '"' {
					break
				}
				buf = append(buf, ch)
			}
			value = string(buf)
		} else {
			valueStart := i
			for i < n && body[i] != ' ' {
				i++
			}
			value = body[valueStart:i]
		}

		out[key] = value
	}

	return out
}
