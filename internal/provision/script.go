package provision

import (
	"fmt"
	"strings"
)

// ScriptParams carry everything the boot payload needs beyond the room
// options themselves.
type ScriptParams struct {
	Domain    string
	Subdomain string
	// CallbackURL is the absolute URL of the status-report endpoint.
	CallbackURL string
	// CallbackToken is the room-scoped bearer token for the push path.
	CallbackToken string
	// StatusPort serves the "<step>:<status>" line for the pull path.
	StatusPort int
}

// BootScript renders the instance user-data. The instance reports progress
// two ways: a plaintext status endpoint polled by the scheduler, and an
// authenticated callback POST once the session is up.
func BootScript(o Options, p ScriptParams) string {
	var b strings.Builder

	fmt.Fprintf(&b, `#!/bin/bash
set -e

STATUS_FILE=/run/neko-status

report() {
  echo "$1:$2" > "$STATUS_FILE"
  curl -fsS -m 10 -X POST \
    -H "Authorization: Bearer %s" \
    -H "Content-Type: application/json" \
    -d "{\"step\": $1, \"status\": \"$2\"}" \
    "%s" || true
}

echo "1:submitted" > "$STATUS_FILE"

# lightweight status endpoint for the reconciler's liveness probe
nohup sh -c 'while true; do
  { printf "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\n"; cat /run/neko-status; } \
    | nc -l -p %d -q 1
done' >/dev/null 2>&1 &

apt-get update
DEBIAN_FRONTEND=noninteractive apt-get -y upgrade

apt-get -y install ufw nginx certbot python3-certbot-nginx curl netcat-openbsd
`, p.CallbackToken, p.CallbackURL, p.StatusPort)

	fqdn := p.Subdomain + "." + p.Domain

	fmt.Fprintf(&b, `
cat > /etc/nginx/sites-available/%[1]s <<'EOF'
server {
  listen 80;
  server_name %[2]s;

  location / {
    proxy_pass http://localhost:8080;
    proxy_http_version 1.1;
    proxy_set_header Upgrade $http_upgrade;
    proxy_set_header Connection 'upgrade';
    proxy_read_timeout 86400;
    proxy_set_header Host $host;
    proxy_set_header X-Real-IP $remote_addr;
    proxy_set_header X-Forwarded-For $remote_addr;
    proxy_set_header X-Forwarded-Host $host;
    proxy_set_header X-Forwarded-Port $server_port;
    proxy_set_header X-Forwarded-Protocol $scheme;
  }
}
EOF

ln -s /etc/nginx/sites-available/%[1]s /etc/nginx/sites-enabled/
systemctl restart nginx
certbot -n --nginx -d %[2]s --agree-tos --register-unsafely-without-email \
  --redirect
ufw allow 'Nginx HTTP'
ufw allow 'Nginx HTTPS'
ufw allow OpenSSH
ufw allow %[3]d/tcp
ufw --force enable

report 4 proxy_ready
`, p.Domain, fqdn, p.StatusPort)

	fmt.Fprintf(&b, `
apt-get -y install docker.io docker-compose

cat > docker-compose.yaml <<'EOF'
version: "3.4"
services:
  neko:
    image: "m1k1o/neko:%s"
    restart: "unless-stopped"
    shm_size: "8gb"
    ports:
      - "8080:8080"
      - "52000-52100:52000-52100/udp"
    environment:
      NEKO_SCREEN: %s
      NEKO_PASSWORD: %s
      NEKO_PASSWORD_ADMIN: %s
      NEKO_EPR: 52000-52100
      NEKO_ICELITE: 1
EOF

docker-compose up -d

report 5 ready
`, o.Image, o.Screen(), o.Password, o.AdminPassword)

	return b.String()
}
