package queue

import "github.com/redis/go-redis/v9"

// 等待中的任务按分组存放在各自的 wait 列表（无分组的任务使用空分组名）；
// ready 列表轮转保存当前有等待任务的分组，每个分组至多出现一次。

// KEYS[1]=job KEYS[2]=delayed KEYS[3]=ready
// ARGV: id, data, group, created_at(ms), process_at(ms, 0=立即), group wait key prefix
var addScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
local state = 'waiting'
if tonumber(ARGV[5]) > 0 then
  state = 'delayed'
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'data', ARGV[2], 'group', ARGV[3],
  'state', state, 'attempts', 0, 'created_at', ARGV[4], 'process_at', ARGV[5])
if state == 'delayed' then
  redis.call('ZADD', KEYS[2], ARGV[5], ARGV[1])
elseif redis.call('RPUSH', ARGV[6] .. ARGV[3], ARGV[1]) == 1 then
  redis.call('RPUSH', KEYS[3], ARGV[3])
end
return 1
`)

// KEYS[1]=delayed KEYS[2]=ready
// ARGV: now(ms), job key prefix, limit, group wait key prefix
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local jobKey = ARGV[2] .. id
  local group = redis.call('HGET', jobKey, 'group')
  if group then
    redis.call('HSET', jobKey, 'state', 'waiting')
    if redis.call('RPUSH', ARGV[4] .. group, id) == 1 then
      redis.call('RPUSH', KEYS[2], group)
    end
  end
end
return #ids
`)

// 按 ready 轮转取分组：已达并发上限的分组移到队尾，其余分组取出头部任务，
// 仍有等待任务的分组同样移到队尾。每次最多检查一整圈。
// KEYS[1]=ready KEYS[2]=group 活跃计数 hash KEYS[3]=active zset
// ARGV: job key prefix, group concurrency(0=不限), 锁过期时间(ms), group wait key prefix
var claimScript = redis.NewScript(`
local limit = tonumber(ARGV[2])
local n = redis.call('LLEN', KEYS[1])
for _ = 1, n do
  local group = redis.call('LPOP', KEYS[1])
  if not group then
    return false
  end
  local full = false
  if group ~= '' and limit > 0 then
    local active = tonumber(redis.call('HGET', KEYS[2], group) or '0')
    full = active >= limit
  end
  if full then
    redis.call('RPUSH', KEYS[1], group)
  else
    local groupWait = ARGV[4] .. group
    local id = redis.call('LPOP', groupWait)
    if redis.call('LLEN', groupWait) > 0 then
      redis.call('RPUSH', KEYS[1], group)
    end
    if id then
      local jobKey = ARGV[1] .. id
      if redis.call('EXISTS', jobKey) == 1 then
        if group ~= '' then
          redis.call('HINCRBY', KEYS[2], group, 1)
        end
        redis.call('ZADD', KEYS[3], ARGV[3], id)
        redis.call('HSET', jobKey, 'state', 'active')
        local attempts = redis.call('HINCRBY', jobKey, 'attempts', 1)
        return {id, redis.call('HGET', jobKey, 'data'), group, tostring(attempts)}
      end
    end
  end
end
return false
`)

// KEYS[1]=job KEYS[2]=group 活跃计数 hash KEYS[3]=active zset
// ARGV: id, group, 终态(completed|failed), 是否删除(1/0), 失败原因, finished_at(ms)
var finishScript = redis.NewScript(`
if redis.call('ZREM', KEYS[3], ARGV[1]) == 0 then
  return 0
end
if ARGV[2] ~= '' then
  local n = redis.call('HINCRBY', KEYS[2], ARGV[2], -1)
  if n <= 0 then
    redis.call('HDEL', KEYS[2], ARGV[2])
  end
end
if ARGV[4] == '1' then
  redis.call('DEL', KEYS[1])
else
  redis.call('HSET', KEYS[1], 'state', ARGV[3], 'failed_reason', ARGV[5], 'finished_at', ARGV[6])
end
return 1
`)

// 锁过期的 active 任务放回所在分组 wait 头部，释放分组名额。
// KEYS[1]=active zset KEYS[2]=ready KEYS[3]=group 活跃计数 hash
// ARGV: now(ms), job key prefix, limit, group wait key prefix
var recoverScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local jobKey = ARGV[2] .. id
  local group = redis.call('HGET', jobKey, 'group')
  if group then
    if group ~= '' then
      local n = redis.call('HINCRBY', KEYS[3], group, -1)
      if n <= 0 then
        redis.call('HDEL', KEYS[3], group)
      end
    end
    redis.call('HSET', jobKey, 'state', 'waiting')
    if redis.call('LPUSH', ARGV[4] .. group, id) == 1 then
      redis.call('RPUSH', KEYS[2], group)
    end
  end
end
return #ids
`)

// KEYS[1]=job KEYS[2]=ready KEYS[3]=delayed  ARGV: id, group wait key prefix
var removeScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state or state == 'active' then
  return 0
end
if state == 'waiting' then
  local group = redis.call('HGET', KEYS[1], 'group') or ''
  local groupWait = ARGV[2] .. group
  redis.call('LREM', groupWait, 0, ARGV[1])
  if redis.call('LLEN', groupWait) == 0 then
    redis.call('LREM', KEYS[2], 0, group)
  end
end
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('DEL', KEYS[1])
return 1
`)

// KEYS[1]=ready  ARGV: group wait key prefix
var waitingScript = redis.NewScript(`
local total = 0
for _, group in ipairs(redis.call('LRANGE', KEYS[1], 0, -1)) do
  total = total + redis.call('LLEN', ARGV[1] .. group)
end
return total
`)
